package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/paperline/sales-voice-service/internal/adapters/livekit"
	"github.com/paperline/sales-voice-service/internal/adapters/openai"
	"github.com/paperline/sales-voice-service/internal/adapters/telnyx"
	"github.com/paperline/sales-voice-service/internal/config"
	"github.com/paperline/sales-voice-service/internal/core/session"
	"github.com/paperline/sales-voice-service/internal/handler"
	"github.com/paperline/sales-voice-service/internal/orchestrator"
	"github.com/paperline/sales-voice-service/internal/repository"
	"github.com/paperline/sales-voice-service/internal/services/campaign"
	"github.com/paperline/sales-voice-service/internal/services/customer"
	"github.com/paperline/sales-voice-service/pkg/logger"
	"github.com/paperline/sales-voice-service/pkg/redis"
	"github.com/paperline/sales-voice-service/pkg/twilio"
)

// Server represents the sales voice service
type Server struct {
	config         *config.ServiceConfig
	router         *mux.Router
	orch           *orchestrator.Orchestrator
	handlerManager *handler.HandlerManager
}

// NewServer wires configuration, providers, the orchestrator and the
// HTTP surface.
func NewServer(cfg *config.ServiceConfig) (*Server, error) {
	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		logger.Base().Error("Failed to initialize zap logger, falling back to std log")
	}

	// Telephony gateway
	gateway := &telnyxGateway{Client: telnyx.NewClient(telnyx.Config{
		APIKey:       cfg.TelnyxAPIKey,
		APIBase:      cfg.TelnyxAPIBaseURL,
		ConnectionID: cfg.TelnyxConnectionID,
		WebhookURL:   cfg.TelnyxWebhookURL,
	})}

	// AI conversation sessions
	var conversation orchestrator.ConversationClient
	if cfg.OpenAIAPIKey != "" {
		conversation = &realtimeClient{client: openai.NewClient(openai.Config{
			APIKey:      cfg.OpenAIAPIKey,
			RealtimeURL: cfg.OpenAIRealtimeURL,
			Model:       cfg.OpenAIRealtimeModel,
			Voice:       cfg.OpenAIVoice,
		})}
	} else {
		logger.Base().Warn("OPENAI_API_KEY not set, calls will run the scripted flow")
	}

	// Media rooms with TURN credentials for room participants
	var media orchestrator.MediaRoomClient
	var roomService *livekit.RoomService
	if cfg.LiveKitEnabled {
		var turnSvc *twilio.TwilioTokenService
		if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
			turnSvc = twilio.NewTwilioTokenService(cfg.TwilioAccountSID, cfg.TwilioAuthToken, true)
		}
		rs, err := livekit.NewRoomService(livekit.Config{
			ServerURL: cfg.LiveKitServerURL,
			APIKey:    cfg.LiveKitAPIKey,
			APISecret: cfg.LiveKitAPISecret,
		}, turnSvc)
		if err != nil {
			logger.Base().Warn("LiveKit disabled", zap.Error(err))
		} else {
			roomService = rs
			media = rs
		}
	}

	// Redis backs the customer cache and the cleanup broadcast
	var redisSvc redis.RedisServiceInterface
	if rs, err := redis.NewRedisService(&redis.RedisConfig{
		Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
		Port:     getEnvOrDefault("REDIS_PORT", "6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvAsIntOrDefault("REDIS_DB", 0),
	}); err != nil {
		logger.Base().Warn("Redis unavailable, running without cache and cleanup broadcast", zap.Error(err))
	} else {
		redisSvc = rs
	}

	var broadcaster orchestrator.CleanupBroadcaster
	var cleanupMgr *session.Manager
	if redisSvc != nil {
		cleanupMgr = session.NewManager(redisSvc, cfg.InstanceID)
		broadcaster = cleanupMgr
	}

	customers := customer.NewService(cfg.CustomerServiceBaseURL, cfg.CustomerServiceAPIKey,
		cfg.CustomerCacheTTL, redisSvc)

	// Postgres persistence for finished calls
	var recorder orchestrator.Recorder
	var recordRepo *repository.CallRecordRepository
	if db, err := repository.NewDatabaseConnection(repository.LoadDatabaseConfigFromEnv()); err != nil {
		logger.Base().Warn("Database unavailable, call records will not be persisted", zap.Error(err))
	} else {
		if err := repository.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		recordRepo = repository.NewCallRecordRepository(db)
		recorder = recordRepo
	}

	orch := orchestrator.New(gateway, conversation, media, recorder, broadcaster, customers,
		orchestrator.Options{
			Retention:           cfg.SessionRetention,
			GatherTimeoutMillis: int(cfg.GatherTimeout / time.Millisecond),
			SpeakTimeout:        cfg.SpeakTimeout,
			FromNumber:          cfg.TelnyxFromNumber,
		})

	// Other pods announce their teardowns over Redis; release anything
	// this pod still holds for those calls.
	if cleanupMgr != nil {
		if err := cleanupMgr.SubscribeToCleanup(context.Background(), orch.HandleCleanupBroadcast); err != nil {
			logger.Base().Warn("Cleanup broadcast subscription unavailable", zap.Error(err))
		}
	}

	eventRouter := orchestrator.NewRouter(orch)

	runner := campaign.NewRunner(orch, cfg.CampaignCallsPerMinute, cfg.CampaignMaxConcurrent)
	orch.SetFinalizeHook(runner.OnCallFinalized)

	handlerManager := handler.NewHandlerManager(orch, eventRouter, recordRepo, roomService, runner,
		cfg.TelnyxWebhookPublicKey, cfg.EnableCORS)
	router := mux.NewRouter()
	handlerManager.SetupAllRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		orch:           orch,
		handlerManager: handlerManager,
	}, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.config.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Base().Info("Starting server", zap.String("addr", addr))
	return server.ListenAndServe()
}

// LoadConfigFromEnv loads service configuration from environment
func LoadConfigFromEnv() *config.ServiceConfig {
	return &config.ServiceConfig{
		Port: getEnvOrDefault("PORT", "8082"),

		TelnyxAPIKey:           getEnvOrDefault("TELNYX_API_KEY", ""),
		TelnyxAPIBaseURL:       getEnvOrDefault("TELNYX_API_BASE_URL", "https://api.telnyx.com/v2"),
		TelnyxConnectionID:     getEnvOrDefault("TELNYX_CONNECTION_ID", ""),
		TelnyxFromNumber:       getEnvOrDefault("TELNYX_FROM_NUMBER", ""),
		TelnyxWebhookURL:       getEnvOrDefault("TELNYX_WEBHOOK_URL", ""),
		TelnyxWebhookPublicKey: getEnvOrDefault("TELNYX_WEBHOOK_PUBLIC_KEY", ""),

		OpenAIAPIKey:        getEnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIRealtimeURL:   getEnvOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		OpenAIRealtimeModel: getEnvOrDefault("OPENAI_REALTIME_MODEL", "gpt-realtime"),
		OpenAIVoice:         getEnvOrDefault("OPENAI_VOICE", "alloy"),

		LiveKitEnabled:   getEnvAsBoolOrDefault("LIVEKIT_ENABLED", false),
		LiveKitServerURL: getEnvOrDefault("LIVEKIT_SERVER_URL", ""),
		LiveKitAPIKey:    getEnvOrDefault("LIVEKIT_API_KEY", ""),
		LiveKitAPISecret: getEnvOrDefault("LIVEKIT_API_SECRET", ""),

		TwilioAccountSID: getEnvOrDefault("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnvOrDefault("TWILIO_AUTH_TOKEN", ""),

		CustomerServiceBaseURL: getEnvOrDefault("CUSTOMER_SERVICE_BASE_URL", ""),
		CustomerServiceAPIKey:  getEnvOrDefault("CUSTOMER_SERVICE_API_KEY", ""),
		CustomerCacheTTL:       time.Duration(getEnvAsIntOrDefault("CUSTOMER_CACHE_TTL_MINUTES", 10)) * time.Minute,

		SessionRetention: time.Duration(getEnvAsIntOrDefault("SESSION_RETENTION_MINUTES", 5)) * time.Minute,
		GatherTimeout:    time.Duration(getEnvAsIntOrDefault("GATHER_TIMEOUT_SECONDS", 15)) * time.Second,
		SpeakTimeout:     time.Duration(getEnvAsIntOrDefault("SPEAK_TIMEOUT_SECONDS", 30)) * time.Second,

		CampaignCallsPerMinute: getEnvAsIntOrDefault("CAMPAIGN_CALLS_PER_MINUTE", 2),
		CampaignMaxConcurrent:  getEnvAsIntOrDefault("CAMPAIGN_MAX_CONCURRENT", 3),

		InstanceID: getDynamicInstanceID(),
		EnableCORS: getEnvAsBoolOrDefault("ENABLE_CORS", true),
	}
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getDynamicInstanceID generates a unique identifier for this service
// instance: the hostname (pod name in K8s) when available, otherwise a
// timestamp-based ID.
func getDynamicInstanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return fmt.Sprintf("sales-voice-%d", time.Now().UnixNano())
}

func main() {
	// Load .env file for local development if it exists. This will not
	// override environment variables set by Helm/Docker.
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	cfg := LoadConfigFromEnv()

	server, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	logger.Base().Info("Server initialized",
		zap.String("port", cfg.Port),
		zap.String("instance_id", cfg.InstanceID))

	if err := server.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
