package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/mbeoliero/kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbeoliero/estatechat/internal/config"
	"github.com/mbeoliero/estatechat/internal/gateway"
	"github.com/mbeoliero/estatechat/internal/handler"
	"github.com/mbeoliero/estatechat/internal/repository"
	"github.com/mbeoliero/estatechat/internal/router"
	"github.com/mbeoliero/estatechat/internal/service"
	"github.com/mbeoliero/estatechat/pkg/constant"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the server config file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.CtxError(ctx, "failed to load config: %v", err)
		panic(err)
	}
	log.CtxInfo(ctx, "config loaded: mode=%s", cfg.Server.Mode)

	constant.InitRedisKeyPrefix(cfg.Redis.KeyPrefix)
	log.CtxInfo(ctx, "redis key prefix: %s", constant.GetRedisKeyPrefix())

	repos, err := repository.NewRepositories(cfg)
	if err != nil {
		log.CtxError(ctx, "failed to initialize repositories: %v", err)
		panic(err)
	}
	defer repos.Close()

	if err := repos.CheckConnection(ctx); err != nil {
		log.CtxError(ctx, "database connection check failed: %v", err)
		panic(err)
	}
	log.CtxInfo(ctx, "database connection established")

	msgService := service.NewMessageService(repos)
	convService := service.NewConversationService(repos)

	wsServer := gateway.NewWsServer(cfg, repos.Redis, msgService, gateway.NewMetrics(prometheus.DefaultRegisterer))
	msgService.SetPusher(wsServer)
	convService.SetPusher(wsServer)
	wsServer.Run(ctx)

	handlers := &router.Handlers{
		Message:      handler.NewMessageHandler(msgService),
		Conversation: handler.NewConversationHandler(convService),
	}

	h := server.Default(
		server.WithHostPorts(fmt.Sprintf(":%d", cfg.Server.HTTPPort)),
		server.WithExitWaitTime(5*time.Second),
	)
	router.SetupRouter(h, cfg, handlers, wsServer)

	log.CtxInfo(ctx, "server starting on port %d", cfg.Server.HTTPPort)
	go func() {
		h.Spin()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.CtxInfo(ctx, "shutting down server...")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := h.Shutdown(shutdownCtx); err != nil {
		log.CtxError(shutdownCtx, "server shutdown error: %v", err)
	}

	log.CtxInfo(shutdownCtx, "server stopped")
}
