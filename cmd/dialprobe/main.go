// Command dialprobe places a single server-side call over the realtime
// websocket channel and prints the post-call summary. It exists for smoke
// testing the full call path (channel, accumulator, transcript, summary)
// without a browser.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/santa-voice-lab/internal/call"
	"github.com/santa-voice-lab/internal/logging"
	"github.com/santa-voice-lab/internal/profile"
	"github.com/santa-voice-lab/internal/realtime"
	"github.com/santa-voice-lab/internal/summary"
	"github.com/santa-voice-lab/internal/transcript"
)

func main() {
	_ = godotenv.Load()

	loggingSugar := logging.Init()
	if loggingSugar == nil {
		l, _ := zap.NewProduction()
		defer l.Sync()
		loggingSugar = l.Sugar()
	}
	sugar := loggingSugar
	defer logging.Sync()

	name := flag.String("name", "", "caller name for the probe profile")
	age := flag.String("age", "", "caller age for the probe profile")
	duration := flag.Duration("duration", time.Minute, "maximum call length")
	flag.Parse()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		sugar.Fatal("OPENAI_API_KEY required")
	}

	model := envOr("MODEL", "gpt-4o-realtime-preview-2024-12-17")
	voice := envOr("SANTA_VOICE", "cedar")
	wsURL := envOr("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime")
	openaiBase := envOr("OPENAI_BASE_URL", "https://api.openai.com/v1")
	geminiKey := os.Getenv("GEMINI_API_KEY")
	summaryModel := envOr("SUMMARY_MODEL", "gpt-4o")
	transcriptDir := envOr("TRANSCRIPT_DIR", "data/transcripts")
	idleNudge := envInt(sugar, "IDLE_NUDGE_SECONDS", 30)
	turnRefresh := envInt(sugar, "TURN_REFRESH_INTERVAL", call.DefaultTurnRefreshInterval)

	p := profile.Profile{Name: *name, Age: *age}
	callID := uuid.NewString()

	store, err := transcript.NewStore(transcriptDir)
	if err != nil {
		sugar.Warnf("transcript store unavailable: %v", err)
		store = nil
	}
	if store != nil {
		if err := store.StartSession(callID, p); err != nil {
			sugar.Warnf("unable to start transcript log: %v", err)
		}
	}

	greeting := fmt.Sprintf(
		"Ho ho ho! %s, it's Santa calling from the North Pole. I can hear you loud and clear.",
		greetName(p))

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	sessCfg := realtime.SessionConfig{
		Instructions:       profile.BuildInstructions(p),
		Voice:              voice,
		TranscriptionModel: "gpt-4o-mini-transcribe",
	}
	client, err := realtime.Dial(ctx, realtime.ClientConfig{
		BaseURL: wsURL,
		APIKey:  apiKey,
		Model:   model,
	}, sessCfg, greeting)
	if err != nil {
		sugar.Fatalf("realtime dial: %v", err)
	}

	chain := []summary.Backend{
		summary.NewOpenAIBackend(openaiBase, apiKey, summaryModel),
		summary.NewOpenAIBackend(openaiBase, apiKey, "gpt-4o-mini"),
	}
	if geminiKey != "" {
		chain = append(chain, summary.NewGeminiBackend("", geminiKey, "gemini-1.5-flash"))
	}

	sugar.Infow("probe call started", "call.id", callID, "model", model, "maxDuration", duration.String())
	res, err := call.RunCall(ctx, client, call.BridgeConfig{
		CallID:       callID,
		Profile:      p,
		Session:      sessCfg,
		Store:        storeOrNil(store),
		Registry:     call.NewRegistry(),
		Summarizer:   summary.NewPipeline(chain...),
		IdleInterval: time.Duration(idleNudge) * time.Second,
		TurnRefresh:  turnRefresh,
	})
	if err != nil {
		sugar.Warnf("probe call ended with error: %v", err)
	}

	fmt.Printf("summary (%s): %s\n", res.Model, res.Text)
	if store != nil {
		fmt.Printf("transcript: %s\n", store.Path(callID))
	}
}

// storeOrNil avoids handing a typed-nil *Store to the Appender interface.
func storeOrNil(s *transcript.Store) call.Appender {
	if s == nil {
		return nil
	}
	return s
}

func greetName(p profile.Profile) string {
	if p.Name != "" {
		return p.Name
	}
	return "there"
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
