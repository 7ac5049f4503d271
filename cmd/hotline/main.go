package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/santa-voice-lab/internal/call"
	"github.com/santa-voice-lab/internal/logging"
	"github.com/santa-voice-lab/internal/server"
	"github.com/santa-voice-lab/internal/summary"
	"github.com/santa-voice-lab/internal/transcript"
)

func main() {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	loggingSugar := logging.Init()
	if loggingSugar == nil {
		l, _ := zap.NewProduction()
		defer l.Sync()
		loggingSugar = l.Sugar()
	}
	sugar := loggingSugar
	defer logging.Sync()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		// The server still starts; /session and /summarize report the
		// missing credential per request.
		sugar.Warnw("OPENAI_API_KEY not set; session and summarize routes will fail")
	}

	model := envOr("MODEL", "gpt-4o-realtime-preview-2024-12-17")
	voice := envOr("SANTA_VOICE", "cedar")
	summaryModel := envOr("SUMMARY_MODEL", "gpt-4o")
	openaiBase := envOr("OPENAI_BASE_URL", "https://api.openai.com/v1")
	geminiKey := os.Getenv("GEMINI_API_KEY")
	transcriptDir := envOr("TRANSCRIPT_DIR", "data/transcripts")
	publicDir := envOr("PUBLIC_DIR", "public")

	port := envInt(sugar, "PORT", 3000)
	turnRefresh := envInt(sugar, "TURN_REFRESH_INTERVAL", call.DefaultTurnRefreshInterval)

	store, err := transcript.NewStore(transcriptDir)
	if err != nil {
		// Calls proceed without durable transcripts rather than refusing
		// to start.
		sugar.Warnf("transcript store unavailable: %v", err)
		store = nil
	}

	summarizer := buildSummaryChain(openaiBase, apiKey, geminiKey, summaryModel)
	registry := call.NewRegistry()

	srv := server.New(server.Config{
		APIKey:          apiKey,
		Model:           model,
		Voice:           voice,
		UpstreamBaseURL: openaiBase,
		PublicDir:       publicDir,
		TurnRefresh:     turnRefresh,
	}, store, registry, summarizer)

	httpSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("santa hotline listening", "addr", httpSrv.Addr, "model", model, "voice", voice)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	sugar.Infow("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		sugar.Warnf("http shutdown error: %v", err)
	}
	sugar.Infow("shutdown complete", "activeCalls", registry.Len())
}

// buildSummaryChain assembles the fixed-order fallback chain: the configured
// summary model, then gpt-4o-mini, then Gemini flash when a Gemini key is
// present (a second OpenAI model otherwise).
func buildSummaryChain(openaiBase, apiKey, geminiKey, summaryModel string) *summary.Pipeline {
	backends := []summary.Backend{
		summary.NewOpenAIBackend(openaiBase, apiKey, summaryModel),
		summary.NewOpenAIBackend(openaiBase, apiKey, "gpt-4o-mini"),
	}
	if geminiKey != "" {
		backends = append(backends, summary.NewGeminiBackend("", geminiKey, "gemini-1.5-flash"))
	} else {
		backends = append(backends, summary.NewOpenAIBackend(openaiBase, apiKey, "gpt-4o"))
	}
	return summary.NewPipeline(backends...)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(sugar *zap.SugaredLogger, key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		sugar.Warnf("invalid %s=%s; using default %d", key, v, def)
		return def
	}
	return n
}
