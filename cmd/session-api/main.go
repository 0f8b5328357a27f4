// Copyright (c) 2024-2026 Coachly AI
// Author: Platform Engineering <platform@coachly.ai>
//
// Licensed under GPL-2.0 with Coachly Additional Terms.
// See LICENSE.md or contact sales@coachly.ai for commercial usage.

package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/coachlyai/api/session-api/config"
	session_routers "github.com/coachlyai/api/session-api/router"
	"github.com/coachlyai/pkg/commons"
	"github.com/coachlyai/pkg/connectors"
)

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("failed to initialize config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("failed to load application config: %v", err)
	}

	logger, err := commons.NewApplicationLogger(commons.WithLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	postgres, err := connectors.NewPostgresConnector(logger, connectors.PostgresConfig{
		Host:            cfg.PostgresConfig.Host,
		Port:            cfg.PostgresConfig.Port,
		User:            cfg.PostgresConfig.User,
		Password:        cfg.PostgresConfig.Password,
		Database:        cfg.PostgresConfig.DbName,
		SSLMode:         cfg.PostgresConfig.SSLMode,
		MaxOpenConns:    cfg.PostgresConfig.MaxOpenConnection,
		MaxIdleConns:    cfg.PostgresConfig.MaxIdleConnection,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		logger.Errorw("failed to connect to postgres", "error", err)
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer func() { _ = postgres.Close() }()

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))

	session_routers.HealthCheckRoutes(cfg, engine, logger, postgres)
	// Device capture is environment-provided; without a gateway sessions run
	// transcript-only with a mixed-down audio artifact.
	session_routers.SessionApiRoute(cfg, engine, logger, postgres, nil)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	logger.Infow("session-api listening", "addr", addr, "version", cfg.Version)
	if err := engine.Run(addr); err != nil {
		logger.Errorw("server exited", "error", err)
		log.Fatalf("server exited: %v", err)
	}
}
