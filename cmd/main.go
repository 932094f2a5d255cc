package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	grpcapi "ai-lecture-transcriber/internal/api/grpc"
	"ai-lecture-transcriber/internal/app"
	"ai-lecture-transcriber/internal/config"
	httpapi "ai-lecture-transcriber/internal/http"
	"ai-lecture-transcriber/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create application")
	}
	logger := application.Logger

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to listen")
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(logger, nil)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(logger, nil)),
	)
	health := grpcapi.Register(server, logger)

	httpServer := observability.NewServer(":"+cfg.Service.HTTPPort, httpapi.NewRouter(application), logger)
	if err := httpServer.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	if err := application.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start application")
	}
	health.SetServing(true)

	go func() {
		logger.Info().Str("port", cfg.Service.GRPCPort).Msg("Lecture transcriber gRPC server started")
		if err := server.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("grpc serve failed")
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down")
	health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exitCode := 0
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("application shutdown failed")
		exitCode = 1
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	server.GracefulStop()
	os.Exit(exitCode)
}
