// This is the main entry point for the broker server.
// Loads in all system components, wires provider clients, and exposes the
// conversation WebSocket gateway.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis"

	"github.com/rediai/broker/internal/analytics"
	"github.com/rediai/broker/internal/auth"
	"github.com/rediai/broker/internal/billing"
	"github.com/rediai/broker/internal/config"
	"github.com/rediai/broker/internal/gateway"
	"github.com/rediai/broker/internal/logging"
	"github.com/rediai/broker/internal/orchestrator"
	"github.com/rediai/broker/internal/redemption"
	"github.com/rediai/broker/internal/registry"
	"github.com/rediai/broker/internal/scheduler"
	"github.com/rediai/broker/pkg/provider/llm/anthropic"
	"github.com/rediai/broker/pkg/provider/llm/gemini"
	"github.com/rediai/broker/pkg/provider/llm/openaicompat"
	"github.com/rediai/broker/pkg/provider/stt"
	"github.com/rediai/broker/pkg/provider/stt/deepgram"
	"github.com/rediai/broker/pkg/provider/tts"
	"github.com/rediai/broker/pkg/provider/tts/elevenlabs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.Debug)
	logger.Info("logger initialized")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Pass,
		DB:       cfg.Redis.DB,
	})

	reg := registry.New(redisClient, logger)

	billingTracker, err := billing.New(billing.Config{
		Path:          cfg.Store.SpendPath,
		CapUSD:        cfg.Billing.MonthlySpendCapUSD,
		CreditPerTick: 1,
	}, logger)
	if err != nil {
		log.Fatalf("failed to initialize spend tracker: %v", err)
	}

	analyticsRecorder, err := analytics.NewRecorder(cfg.Store.AnalyticsDir)
	if err != nil {
		log.Fatalf("failed to initialize analytics recorder: %v", err)
	}

	redemptionStore, err := redemption.New(cfg.Store.RedemptionPath)
	if err != nil {
		log.Fatalf("failed to initialize redemption store: %v", err)
	}

	sttProvider, ttsProvider, voiceProfile := buildSpeechProviders(cfg, logger)
	brains := buildBrains(cfg, logger)

	orch := orchestrator.New(orchestrator.Dependencies{
		Registry: reg,
		STT:      sttProvider,
		TTS:      ttsProvider,
		Brains:   brains,
		Voice:    voiceProfile,
		Settings: cfg.Session,
		Billing:  billingTracker,
		Recorder: turnRecorderAdapter{rec: analyticsRecorder},
		Log:      logger,
	})
	reg.OnSessionEnd(func(sessionID string) {
		orch.HandleSessionEnd(sessionID, "")
	})

	var validator *auth.Validator
	if cfg.Auth.JWTSecret != "" {
		validator = auth.NewValidator(cfg.Auth.JWTSecret)
	}

	gw := gateway.New(reg, orch, validator, cfg.Auth.Required, logger)

	sched := scheduler.New(scheduler.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Pass,
		RedisDB:       cfg.Redis.DB,
		Concurrency:   5,
	}, logger, analyticsRecorder, redemptionStore, billingTracker)

	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	schedCtx, cancelSched := context.WithCancel(context.Background())
	sched.RunRecurring(schedCtx)

	router := gin.Default()
	gw.RegisterRoutes(router)

	logger.Info("application initialized successfully")

	startServer(router, logger, cfg.Port, func() {
		cancelSched()
		sched.Stop()
	})
}

// buildSpeechProviders wires the STT/TTS clients named in the external
// interface; a missing key leaves the corresponding pipeline nil. Without
// STT the orchestrator closes each new session with 1011; without TTS,
// responses are sent as text only.
func buildSpeechProviders(cfg *config.Settings, logger *logging.Logger) (stt.Provider, tts.Provider, tts.VoiceProfile) {
	var sttProvider stt.Provider
	if cfg.Keys.DeepgramAPIKey != "" {
		p, err := deepgram.New(cfg.Keys.DeepgramAPIKey)
		if err != nil {
			logger.Errorw("deepgram provider init failed", "err", err)
		} else {
			sttProvider = p
		}
	}

	var ttsProvider tts.Provider
	voice := tts.VoiceProfile{ID: cfg.Keys.ElevenLabsSantaVoice, Provider: "elevenlabs"}
	if cfg.Keys.ElevenLabsAPIKey != "" {
		p, err := elevenlabs.New(cfg.Keys.ElevenLabsAPIKey)
		if err != nil {
			logger.Errorw("elevenlabs provider init failed", "err", err)
		} else {
			ttsProvider = p
		}
	}

	return sttProvider, ttsProvider, voice
}

// buildBrains wires the fast/deep/voice LLM pipelines per §4.6/§4.10: fast
// over an OpenAI-compatible endpoint (OpenAI by default, or Cerebras/Groq/
// Together via base URL override), deep over Anthropic for its vision
// support, voice over Gemini.
func buildBrains(cfg *config.Settings, logger *logging.Logger) orchestrator.Brains {
	var brains orchestrator.Brains

	if cfg.Keys.OpenAIAPIKey != "" {
		p, err := openaicompat.New(cfg.Keys.OpenAIAPIKey)
		if err != nil {
			logger.Errorw("openai provider init failed", "err", err)
		} else {
			brains.Fast = p
		}
	} else if cfg.Keys.CerebrasAPIKey != "" {
		p, err := openaicompat.New(cfg.Keys.CerebrasAPIKey, openaicompat.WithBaseURL("https://api.cerebras.ai/v1"))
		if err != nil {
			logger.Errorw("cerebras provider init failed", "err", err)
		} else {
			brains.Fast = p
		}
	} else if cfg.Keys.GroqAPIKey != "" {
		p, err := openaicompat.New(cfg.Keys.GroqAPIKey, openaicompat.WithBaseURL("https://api.groq.com/openai/v1"))
		if err != nil {
			logger.Errorw("groq provider init failed", "err", err)
		} else {
			brains.Fast = p
		}
	} else if cfg.Keys.TogetherAPIKey != "" {
		p, err := openaicompat.New(cfg.Keys.TogetherAPIKey, openaicompat.WithBaseURL("https://api.together.xyz/v1"))
		if err != nil {
			logger.Errorw("together provider init failed", "err", err)
		} else {
			brains.Fast = p
		}
	}

	if cfg.Keys.AnthropicAPIKey != "" {
		p, err := anthropic.New(cfg.Keys.AnthropicAPIKey)
		if err != nil {
			logger.Errorw("anthropic provider init failed", "err", err)
		} else {
			brains.Deep = p
		}
	}

	if cfg.Keys.GeminiAPIKey != "" {
		p, err := gemini.New(context.Background(), cfg.Keys.GeminiAPIKey, "")
		if err != nil {
			logger.Errorw("gemini provider init failed", "err", err)
		} else {
			brains.Voice = p
		}
	}
	if brains.Voice == nil {
		brains.Voice = brains.Deep
	}

	return brains
}

func startServer(router *gin.Engine, logger *logging.Logger, port string, onShutdown func()) {
	if port == "" {
		port = "8080"
	}
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: router.Handler(),
	}

	go func() {
		logger.Infow("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("server failed", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorw("server forced to shutdown", "err", err)
	} else {
		logger.Info("server shutdown complete")
	}
	onShutdown()
}

// turnRecorderAdapter bridges orchestrator.TurnRecorder to
// analytics.Recorder's own TurnRecord shape, keeping the two packages free
// of a direct import-cycle-prone dependency on each other's types.
type turnRecorderAdapter struct {
	rec *analytics.Recorder
}

func (a turnRecorderAdapter) RecordTurn(rec orchestrator.TurnRecord) {
	a.rec.RecordTurn(analytics.TurnRecord{
		SessionID:     rec.SessionID,
		Timestamp:     rec.At,
		Mode:          rec.Mode,
		Brain:         rec.Brain,
		Prompted:      rec.Prompted,
		GuardVerdict:  rec.GuardVerdict,
		BlockReason:   rec.BlockReason,
		AssistantText: rec.Text,
		LatencyMs:     rec.LatencyMs,
	})
}
