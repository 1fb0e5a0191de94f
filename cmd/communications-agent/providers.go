package main

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/biz"
	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/conf"
	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/domain"
	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/infra"
	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/server"
	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/service"
	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/tools"
)

// provideBackendClient 后端REST客户端
func provideBackendClient(cfg *conf.Config, logger log.Logger) *infra.BackendClient {
	return infra.NewBackendClient(&infra.BackendConfig{
		BaseURL:      cfg.Backend.URL,
		APIKey:       cfg.Backend.APIKey,
		TokenURL:     cfg.Backend.TokenURL,
		ClientID:     cfg.Backend.ClientID,
		ClientSecret: cfg.Backend.ClientSecret,
		Timeout:      cfg.Backend.Timeout,
	}, logger)
}

// provideAnthropicClient 模型客户端
func provideAnthropicClient(cfg *conf.Config, logger log.Logger) *infra.AnthropicClient {
	return infra.NewAnthropicClient(&infra.AnthropicConfig{
		APIKey:      cfg.Anthropic.APIKey,
		Model:       cfg.Anthropic.Model,
		MaxTokens:   cfg.Anthropic.MaxTokens,
		Temperature: cfg.Anthropic.Temperature,
		Timeout:     cfg.Anthropic.Timeout,
	}, logger)
}

// provideRedisClient Redis客户端；未配置地址时返回nil，幂等去重被禁用
func provideRedisClient(cfg *conf.Config, logger log.Logger) *redis.Client {
	return infra.NewRedisClient(&infra.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
}

// provideIdempotencyService 请求去重服务
func provideIdempotencyService(client *redis.Client, cfg *conf.Config, logger log.Logger) *biz.IdempotencyService {
	return biz.NewIdempotencyService(client, cfg.Agent.IdempotencyTTL, logger)
}

// provideTokenManager 会话长度管理器
func provideTokenManager(backend *infra.BackendClient, cfg *conf.Config, logger log.Logger) *biz.TokenManager {
	return biz.NewTokenManager(backend, cfg.Agent.MaxContextMessages, cfg.Agent.SummaryThreshold, logger)
}

// provideStateManager Agent会话状态管理器
func provideStateManager(backend *infra.BackendClient, tokenManager *biz.TokenManager, llm *infra.AnthropicClient, logger log.Logger) *biz.AgentStateManager {
	return biz.NewAgentStateManager(backend, backend, tokenManager,
		domain.AgentTypeCommunications, llm.Model(), logger)
}

// provideCoordinator 流式事件协调器，cleanup负责停掉心跳与存量流
func provideCoordinator(cfg *conf.Config, logger log.Logger) (*biz.StreamingCoordinator, func()) {
	coordinator := biz.NewStreamingCoordinator(cfg.Agent.StreamQueueSize, cfg.Agent.HeartbeatInterval, logger)
	coordinator.Start()
	return coordinator, coordinator.Stop
}

// provideExecutorFactory 加载系统提示词与邮件模板，返回按dry-run构造执行器的工厂。
// 提示词或模板缺失直接启动失败。
func provideExecutorFactory(backend *infra.BackendClient, llm *infra.AnthropicClient, cfg *conf.Config, logger log.Logger) (service.ExecutorFactory, error) {
	systemPrompt, err := service.LoadSystemPrompt(cfg.Prompts.SystemPromptPath)
	if err != nil {
		return nil, err
	}
	templates, err := tools.LoadEmailTemplates(cfg.Prompts.EmailTemplatesPath)
	if err != nil {
		return nil, err
	}

	resolver := biz.NewNameResolver(backend, logger)
	globalDryRun := cfg.Agent.DryRun
	maxIterations := cfg.Agent.MaxIterations

	return func(dryRun bool) *biz.AgentExecutor {
		toolset := tools.NewToolset(tools.Deps{
			Cases:     backend,
			Emails:    backend,
			Resolver:  resolver,
			Templates: templates,
			DryRun:    dryRun || globalDryRun,
			Logger:    logger,
		})
		return biz.NewAgentExecutor(llm, toolset, systemPrompt, maxIterations, logger)
	}, nil
}

// provideService 应用服务
func provideService(
	backend *infra.BackendClient,
	stateManager *biz.AgentStateManager,
	tokenManager *biz.TokenManager,
	coordinator *biz.StreamingCoordinator,
	idempotency *biz.IdempotencyService,
	factory service.ExecutorFactory,
	llm *infra.AnthropicClient,
	logger log.Logger,
) *service.CommunicationsService {
	return service.NewCommunicationsService(backend, backend, stateManager, tokenManager,
		coordinator, idempotency, factory, llm.Model(), logger)
}

// provideHTTPServer HTTP服务器
func provideHTTPServer(svc *service.CommunicationsService, backend *infra.BackendClient, cfg *conf.Config, logger log.Logger) *server.HTTPServer {
	return server.NewHTTPServer(svc, backend, &server.Config{
		Addr:      addrFromPort(cfg.Server.HTTPPort),
		Mode:      cfg.Server.Mode,
		JWTSecret: cfg.Auth.JWTSecret,
	}, logger)
}
