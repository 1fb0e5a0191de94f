package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/service"
)

// 客户端断开后强制终止工作流前的宽限期
const disconnectGrace = 5 * time.Second

// BackendProber 就绪检查用的后端连通性探测
type BackendProber interface {
	Ping(ctx context.Context) error
}

// Config HTTP服务器配置
type Config struct {
	Addr      string
	Mode      string // debug | release | test
	JWTSecret string
}

// HTTPServer 通信Agent的HTTP服务器
type HTTPServer struct {
	engine   *gin.Engine
	service  *service.CommunicationsService
	backend  BackendProber
	config   *Config
	upgrader websocket.Upgrader
	srv      *http.Server
	log      *log.Helper
}

// NewHTTPServer 创建HTTP服务器并注册全部路由
func NewHTTPServer(svc *service.CommunicationsService, backend BackendProber, config *Config, logger log.Logger) *HTTPServer {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	engine := gin.New()

	s := &HTTPServer{
		engine:  engine,
		service: svc,
		backend: backend,
		config:  config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.NewHelper(logger),
	}

	// 中间件顺序：恢复最先，认证在业务路由之前
	engine.Use(RecoveryMiddleware(logger))
	engine.Use(CORSMiddleware())
	engine.Use(MetricsMiddleware())
	engine.Use(TracingMiddleware())
	engine.Use(LoggingMiddleware(logger))
	engine.Use(JWTAuthMiddleware(config.JWTSecret))

	s.registerRoutes()
	return s
}

func (s *HTTPServer) registerRoutes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/ready", s.ready)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine.POST("/chat", s.chat)
	s.engine.GET("/ws/chat", s.chatWS)
	s.engine.POST("/tasks/process-reminders", s.processReminders)
	s.engine.GET("/conversations/:id/metrics", s.conversationMetrics)
}

// health 存活检查
func (s *HTTPServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "operational",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// ready 就绪检查：后端不可达时返回503
func (s *HTTPServer) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.backend.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"detail": fmt.Sprintf("backend unavailable: %v", err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "operational",
		"backend": "connected",
	})
}

// chat 流式聊天入口：以SSE推送Agent的执行过程与最终应答
func (s *HTTPServer) chat(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Code: 400, Message: err.Error()})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, Response{Code: 400, Message: "message is required"})
		return
	}

	accepted, err := s.service.StartChatWorkflow(c.Request.Context(), &req)
	if err != nil {
		Error(c, err)
		return
	}

	if accepted.Duplicate {
		Accepted(c, gin.H{
			"workflow_id": accepted.WorkflowID,
			"duplicate":   true,
		})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, Response{Code: 500, Message: "streaming not supported"})
		return
	}

	clientGone := c.Request.Context().Done()
	for {
		select {
		case event, open := <-accepted.Events:
			if !open {
				fmt.Fprint(c.Writer, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}
			fmt.Fprint(c.Writer, event.ToSSE())
			flusher.Flush()

		case <-clientGone:
			s.log.Warnf("client disconnected from workflow %s stream", accepted.WorkflowID)
			workflowID := accepted.WorkflowID
			go func() {
				time.Sleep(disconnectGrace)
				s.service.AbortWorkflow(context.Background(), workflowID, "client disconnected during execution")
			}()
			// 排空通道让后台执行正常收尾
			for range accepted.Events {
			}
			return
		}
	}
}

// chatWS WebSocket聊天入口：读取一条请求，逐事件推送执行过程
func (s *HTTPServer) chatWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var req service.ChatRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(gin.H{"error": "invalid chat request"})
		return
	}
	if req.Message == "" {
		_ = conn.WriteJSON(gin.H{"error": "message is required"})
		return
	}

	accepted, err := s.service.StartChatWorkflow(c.Request.Context(), &req)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": err.Error()})
		return
	}
	if accepted.Duplicate {
		_ = conn.WriteJSON(gin.H{"workflow_id": accepted.WorkflowID, "duplicate": true})
		return
	}

	for event := range accepted.Events {
		if err := conn.WriteJSON(event); err != nil {
			s.log.Warnf("websocket write failed for workflow %s: %v", accepted.WorkflowID, err)
			workflowID := accepted.WorkflowID
			go func() {
				time.Sleep(disconnectGrace)
				s.service.AbortWorkflow(context.Background(), workflowID, "client disconnected during execution")
			}()
			for range accepted.Events {
			}
			return
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "workflow finished"))
}

// processReminders 批量催办：同步执行并返回处理摘要
func (s *HTTPServer) processReminders(c *gin.Context) {
	var req struct {
		DryRun bool `json:"dry_run"`
	}
	// 空请求体等价于默认参数
	_ = c.ShouldBindJSON(&req)

	result, err := s.service.ProcessReminders(c.Request.Context(), req.DryRun)
	if err != nil {
		Error(c, err)
		return
	}

	Success(c, result)
}

// conversationMetrics 对话健康度查询
func (s *HTTPServer) conversationMetrics(c *gin.Context) {
	metrics := s.service.ConversationMetrics(c.Request.Context(), c.Param("id"))
	Success(c, metrics)
}

// Start 启动服务器
func (s *HTTPServer) Start() error {
	s.srv = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.engine,
	}
	s.log.Infof("http server listening on %s", s.config.Addr)

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.log.Info("http server shutting down")
	return s.srv.Shutdown(ctx)
}

// Handler 暴露底层处理器，测试使用
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}
