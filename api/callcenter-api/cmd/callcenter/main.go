// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	callsApi "github.com/rapidaai/callcenter/api/callcenter-api/api/calls"
	internal_agentbridge "github.com/rapidaai/callcenter/api/callcenter-api/internal/agentbridge"
	internal_callstore "github.com/rapidaai/callcenter/api/callcenter-api/internal/callstore"
	internal_inbound "github.com/rapidaai/callcenter/api/callcenter-api/internal/inbound"
	internal_media "github.com/rapidaai/callcenter/api/callcenter-api/internal/media"
	internal_notifier "github.com/rapidaai/callcenter/api/callcenter-api/internal/notifier"
	internal_session "github.com/rapidaai/callcenter/api/callcenter-api/internal/session"
	internal_telephony "github.com/rapidaai/callcenter/api/callcenter-api/internal/telephony"
	internal_twilio_telephony "github.com/rapidaai/callcenter/api/callcenter-api/internal/telephony/twilio"
	internal_vonage_telephony "github.com/rapidaai/callcenter/api/callcenter-api/internal/telephony/vonage"
	internal_transcription "github.com/rapidaai/callcenter/api/callcenter-api/internal/transcription"
	"github.com/rapidaai/callcenter/api/callcenter-api/migrations"
	callcenter_routers "github.com/rapidaai/callcenter/api/callcenter-api/router"
	"github.com/rapidaai/callcenter/config"
	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/connectors"
)

const shutdownTimeout = 15 * time.Second

type AppRunner struct {
	Cfg      *config.AppConfig
	Logger   commons.Logger
	Postgres connectors.PostgresConnector
	Redis    connectors.RedisConnector
	Engine   *gin.Engine
	Registry *internal_session.Registry
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &AppRunner{}
	app.ResolveConfig()
	app.Logging()
	defer app.Logger.Sync() //nolint:errcheck

	if err := app.Init(ctx); err != nil {
		app.Logger.Fatalf("unable to initialize callcenter: %v", err)
	}
	if err := app.Run(ctx); err != nil {
		app.Logger.Errorf("callcenter stopped with error: %v", err)
	}
	app.Close(context.Background())
}

func (app *AppRunner) ResolveConfig() {
	v, err := config.InitConfig()
	if err != nil {
		log.Fatalf("unable to load config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(v)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	app.Cfg = cfg
}

func (app *AppRunner) Logging() {
	opts := []commons.Option{
		commons.Name(app.Cfg.Name),
		commons.Level(app.Cfg.LogLevel),
	}
	if app.Cfg.LogPath != "" {
		opts = append(opts, commons.Path(app.Cfg.LogPath))
	}
	if app.Cfg.IsProduction() {
		opts = append(opts, commons.EnableProduction())
	}
	logger, err := commons.NewApplicationLogger(opts...)
	if err != nil {
		log.Fatalf("unable to create logger: %v", err)
	}
	app.Logger = logger
}

func (app *AppRunner) Init(ctx context.Context) error {
	if app.Cfg.MigrateOnStart {
		if err := connectors.Migrate(&app.Cfg.PostgresConfig, migrations.FS, app.Logger); err != nil {
			return err
		}
	}

	app.Postgres = connectors.NewPostgresConnector(&app.Cfg.PostgresConfig, app.Logger)
	if err := app.Postgres.Connect(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	app.Redis = connectors.NewRedisConnector(&app.Cfg.RedisConfig, app.Logger)
	if err := app.Redis.Connect(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	store := internal_callstore.NewStore(app.Postgres, app.Logger)

	provider, err := app.provider()
	if err != nil {
		return err
	}
	provider = internal_telephony.NewDedupProvider(provider, app.Redis, app.Cfg.TelephonyConfig.DialDedupTTL, app.Logger)

	transcriber, err := internal_transcription.NewTranscriber(app.Cfg.TranscriptionConfig, app.Logger)
	if err != nil {
		return err
	}

	hub := internal_media.NewHub(app.Logger)
	deps := internal_session.Dependencies{
		Provider: provider,
		Store:    store,
		Media: func(operatorId string) internal_media.Manager {
			return internal_media.NewManager(hub, operatorId, app.Cfg.SessionConfig.PermissionTimeout, app.Logger)
		},
		Transcriber:  transcriber,
		PollInterval: app.Cfg.SessionConfig.StatusPollInterval,
		Pipeline: internal_transcription.Options{
			CaptureWindow: app.Cfg.TranscriptionConfig.CaptureWindow,
			FlushInterval: app.Cfg.TranscriptionConfig.FlushInterval,
		},
	}
	if app.Cfg.ConversationalAIConfig.BaseUrl != "" {
		bridge := internal_agentbridge.NewBridge(
			internal_agentbridge.NewClient(app.Cfg.ConversationalAIConfig, app.Logger),
			internal_agentbridge.NewToolSet(store, app.Logger),
			store,
			app.Logger,
		)
		deps.Agents = internal_session.NewAgentConnector(bridge, app.Logger)
	} else {
		app.Logger.Warnf("conversational ai not configured, calls will run without ai agents")
	}
	app.Registry = internal_session.NewRegistry(deps, app.Logger)
	app.Registry.OnStateChange(func(sessionId string, from, to internal_session.State) {
		app.Logger.Infow("session state changed", "session_id", sessionId, "from", from, "to", to)
	})

	notifier := internal_notifier.NewRedisNotifier(app.Redis, app.Cfg.InboundConfig.NewCallChannel, app.Logger)
	router := internal_inbound.NewRouter(store, notifier, app.Cfg.InboundConfig, app.Logger)

	if app.Cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	app.Engine = gin.New()
	app.Engine.Use(gin.Recovery())
	app.Engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", callsApi.OperatorHeader},
		MaxAge:          12 * time.Hour,
	}))

	callcenter_routers.HealthCheckRoutes(app.Cfg, app.Engine, app.Logger, app.Postgres, app.Redis)
	callcenter_routers.CallApiRoute(app.Cfg, app.Engine, app.Logger, app.Registry, store)
	callcenter_routers.TelephonyApiRoute(app.Cfg, app.Engine, app.Logger, router)
	callcenter_routers.ConsoleApiRoute(app.Cfg, app.Engine, app.Logger, hub)
	return nil
}

func (app *AppRunner) provider() (internal_telephony.Provider, error) {
	switch app.Cfg.TelephonyConfig.Provider {
	case "vonage":
		return internal_vonage_telephony.NewVonage(app.Cfg.TelephonyConfig.Vonage, app.Logger)
	default:
		return internal_twilio_telephony.NewTwilio(app.Cfg.TelephonyConfig.Twilio, app.Logger)
	}
}

// Run serves until ctx is cancelled, then terminates live calls and drains
// the server.
func (app *AppRunner) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", app.Cfg.Host, app.Cfg.Port),
		Handler:           app.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Logger.Infof("callcenter listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		app.Logger.Infof("shutting down callcenter")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		app.Registry.Shutdown(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (app *AppRunner) Close(ctx context.Context) {
	if app.Redis != nil {
		if err := app.Redis.Disconnect(ctx); err != nil {
			app.Logger.Warnf("redis disconnect: %v", err)
		}
	}
	if app.Postgres != nil {
		if err := app.Postgres.Disconnect(ctx); err != nil {
			app.Logger.Warnf("postgres disconnect: %v", err)
		}
	}
}
