//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/conf"
	"github.com/camrenhall/luceron-ai-communications-agent/cmd/communications-agent/internal/server"
)

// initApp 组装通信Agent应用
func initApp(cfg *conf.Config, logger log.Logger) (*server.HTTPServer, func(), error) {
	panic(wire.Build(
		// 基础设施层
		provideBackendClient,
		provideAnthropicClient,
		provideRedisClient,

		// 业务层
		provideIdempotencyService,
		provideTokenManager,
		provideStateManager,
		provideCoordinator,
		provideExecutorFactory,

		// 应用服务层
		provideService,

		// 服务器层
		provideHTTPServer,
	))
}
