package biz

import (
	"context"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/domain"
	"github.com/camrenhall/luceron-ai-communications-agent/pkg/monitoring"
)

const (
	defaultMaxQueueSize     = 1000
	defaultHeartbeatPeriod  = 30 * time.Second
	streamCleanupPeriod     = 5 * time.Minute
	streamInactiveThreshold = time.Hour

	// terminalGraceDelay 终止哨兵前的短暂停顿，让消费者先观察到终止事件
	terminalGraceDelay = 100 * time.Millisecond
)

// StreamingCoordinator 进程级流注册表：把Agent执行产生的事件按工作流
// 多路分发到各自的有界队列，由HTTP响应侧并发消费。
// 锁只保护两张map的O(1)操作，从不跨越通道收发持有。
type StreamingCoordinator struct {
	mu      sync.Mutex
	streams map[string]chan *domain.StreamEvent
	states  map[string]*domain.StreamingState

	maxQueueSize      int
	heartbeatInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *log.Helper
}

// NewStreamingCoordinator 创建协调器，零值参数回落到默认值
func NewStreamingCoordinator(maxQueueSize int, heartbeatInterval time.Duration, logger log.Logger) *StreamingCoordinator {
	if maxQueueSize <= 0 {
		maxQueueSize = defaultMaxQueueSize
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatPeriod
	}
	return &StreamingCoordinator{
		streams:           make(map[string]chan *domain.StreamEvent),
		states:            make(map[string]*domain.StreamingState),
		maxQueueSize:      maxQueueSize,
		heartbeatInterval: heartbeatInterval,
		log:               log.NewHelper(logger),
	}
}

// Start 启动后台心跳与闲置清理任务
func (c *StreamingCoordinator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(2)
	go c.cleanupLoop(ctx)
	go c.heartbeatLoop(ctx)

	c.log.Info("streaming coordinator started")
}

// Stop 取消后台任务并强制清理所有残留流
func (c *StreamingCoordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	ids := make([]string, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.cleanupStream(id)
	}

	c.log.Info("streaming coordinator stopped")
}

// CreateStream 注册工作流的事件流并返回消费通道。
// 立即发出workflow_started事件；同一工作流重复注册返回 domain.ErrStreamExists。
// 返回的通道在收到终止哨兵、ctx取消或流被清理后关闭，关闭时保证资源已释放。
func (c *StreamingCoordinator) CreateStream(ctx context.Context, workflowID, initialPrompt string, agentType domain.AgentType) (<-chan *domain.StreamEvent, error) {
	c.mu.Lock()
	if _, exists := c.streams[workflowID]; exists {
		c.mu.Unlock()
		c.log.Warnf("stream already exists for workflow %s", workflowID)
		return nil, domain.ErrStreamExists
	}
	queue := make(chan *domain.StreamEvent, c.maxQueueSize)
	c.streams[workflowID] = queue
	c.states[workflowID] = domain.NewStreamingState(workflowID)
	c.mu.Unlock()

	monitoring.ActiveStreams.Inc()
	c.log.Infof("created stream for workflow %s", workflowID)

	c.EmitEvent(workflowID, domain.NewWorkflowStartedEvent(workflowID, initialPrompt, agentType))

	out := make(chan *domain.StreamEvent)
	go c.pump(ctx, workflowID, queue, out)
	return out, nil
}

// pump 把内部队列的事件转发到消费通道；退出时必定清理流资源
func (c *StreamingCoordinator) pump(ctx context.Context, workflowID string, queue chan *domain.StreamEvent, out chan<- *domain.StreamEvent) {
	defer func() {
		c.cleanupStream(workflowID)
		close(out)
	}()

	timer := time.NewTimer(c.heartbeatInterval)
	defer timer.Stop()

	for {
		timer.Reset(c.heartbeatInterval)
		select {
		case event := <-queue:
			if event == nil { // 终止哨兵
				return
			}
			select {
			case out <- event:
			case <-ctx.Done():
				c.log.Infof("stream cancelled for workflow %s", workflowID)
				return
			}
		case <-timer.C:
			// 超时后复查存活状态，流已被清理则退出
			if !c.IsStreamActive(workflowID) {
				return
			}
		case <-ctx.Done():
			c.log.Infof("stream cancelled for workflow %s", workflowID)
			return
		}
	}
}

// EmitEvent 非阻塞入队。无注册流返回false；队列已满丢弃事件并记错误日志，
// 绝不阻塞生产者。
func (c *StreamingCoordinator) EmitEvent(workflowID string, event *domain.StreamEvent) bool {
	c.mu.Lock()
	queue, ok := c.streams[workflowID]
	state := c.states[workflowID]
	c.mu.Unlock()

	if !ok {
		c.log.Warnf("no active stream for workflow %s", workflowID)
		return false
	}

	select {
	case queue <- event:
		if state != nil {
			c.mu.Lock()
			state.MarkActivity()
			c.mu.Unlock()
		}
		monitoring.StreamEventsTotal.WithLabelValues(event.Type, "emitted").Inc()
		return true
	default:
		c.log.Errorf("queue full for workflow %s, dropping %s event", workflowID, event.Type)
		monitoring.StreamEventsTotal.WithLabelValues(event.Type, "dropped").Inc()
		return false
	}
}

// NextStepNumber 递增并返回工作流的推理步骤号
func (c *StreamingCoordinator) NextStepNumber(workflowID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.states[workflowID]; ok {
		return state.IncrementStep()
	}
	return 0
}

// RecordToolUse 记录工作流用过的工具名（去重）
func (c *StreamingCoordinator) RecordToolUse(workflowID, toolName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.states[workflowID]; ok {
		state.AddTool(toolName)
	}
}

// CompleteWorkflow 发出完成事件（携带总步数与用过的工具），短暂停顿后送终止哨兵
func (c *StreamingCoordinator) CompleteWorkflow(workflowID, finalResponse string, executionTimeMS int64) {
	c.mu.Lock()
	var totalSteps int
	var toolsUsed []string
	if state, ok := c.states[workflowID]; ok {
		totalSteps = state.StepCounter
		toolsUsed = append(toolsUsed, state.ToolsUsed...)
	}
	c.mu.Unlock()

	c.EmitEvent(workflowID, domain.NewWorkflowCompletedEvent(workflowID, finalResponse, totalSteps, executionTimeMS, toolsUsed))
	monitoring.WorkflowsTotal.WithLabelValues(string(domain.AgentTypeCommunications), string(domain.WorkflowStatusCompleted)).Inc()

	time.Sleep(terminalGraceDelay)
	c.terminateStream(workflowID)
}

// ErrorWorkflow 发出错误事件，短暂停顿后送终止哨兵
func (c *StreamingCoordinator) ErrorWorkflow(workflowID, errorMessage, errorType, recoverySuggestion, partialResponse string) {
	c.EmitEvent(workflowID, domain.NewWorkflowErrorEvent(workflowID, errorMessage, errorType, recoverySuggestion, partialResponse))
	monitoring.WorkflowsTotal.WithLabelValues(string(domain.AgentTypeCommunications), string(domain.WorkflowStatusFailed)).Inc()

	time.Sleep(terminalGraceDelay)
	c.terminateStream(workflowID)
}

// terminateStream 向队列投递nil哨兵；队列满时跳过，流会由清理兜底
func (c *StreamingCoordinator) terminateStream(workflowID string) {
	c.mu.Lock()
	queue, ok := c.streams[workflowID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case queue <- nil:
	default:
	}
}

// cleanupStream 摘除流的队列与状态，幂等
func (c *StreamingCoordinator) cleanupStream(workflowID string) {
	c.mu.Lock()
	_, existed := c.streams[workflowID]
	delete(c.streams, workflowID)
	if state, ok := c.states[workflowID]; ok {
		state.IsActive = false
	}
	delete(c.states, workflowID)
	c.mu.Unlock()

	if existed {
		monitoring.ActiveStreams.Dec()
		c.log.Infof("cleaned up stream for workflow %s", workflowID)
	}
}

// cleanupLoop 周期扫描并摘除超过1小时无活动的流，兜底客户端异常断开
func (c *StreamingCoordinator) cleanupLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(streamCleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evictInactive(time.Now().Add(-streamInactiveThreshold))
		case <-ctx.Done():
			return
		}
	}
}

// evictInactive 摘除最近活动早于cutoff的流
func (c *StreamingCoordinator) evictInactive(cutoff time.Time) {
	c.mu.Lock()
	var inactive []string
	for workflowID, state := range c.states {
		if state.LastActivity.Before(cutoff) {
			inactive = append(inactive, workflowID)
		}
	}
	c.mu.Unlock()

	for _, workflowID := range inactive {
		c.log.Infof("cleaning up inactive stream: %s", workflowID)
		c.cleanupStream(workflowID)
	}
}

// heartbeatLoop 周期向所有活跃流发心跳，防止中间代理断开空闲连接
func (c *StreamingCoordinator) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			ids := make([]string, 0, len(c.streams))
			for id := range c.streams {
				ids = append(ids, id)
			}
			c.mu.Unlock()

			for _, id := range ids {
				c.EmitEvent(id, domain.NewHeartbeatEvent(id))
			}
		case <-ctx.Done():
			return
		}
	}
}

// ActiveStreamCount 当前活跃流数量
func (c *StreamingCoordinator) ActiveStreamCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

// IsStreamActive 工作流是否仍有注册的流
func (c *StreamingCoordinator) IsStreamActive(workflowID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.streams[workflowID]
	return ok
}
