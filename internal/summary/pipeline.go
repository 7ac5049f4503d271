package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/santa-voice-lab/internal/logging"
	"github.com/santa-voice-lab/internal/transcript"
)

// Result is the outcome of one summarization request. Model is empty when
// every backend failed and Text holds the Unavailable sentinel.
type Result struct {
	Text  string `json:"summary"`
	Model string `json:"model"`
}

// Pipeline walks an ordered list of backends and accepts the first
// non-empty result. This is a fixed-order fallback chain, not a retry loop:
// each backend is tried at most once per request.
type Pipeline struct {
	Backends []Backend
}

func NewPipeline(backends ...Backend) *Pipeline {
	return &Pipeline{Backends: backends}
}

// Render formats the finalized log as "speaker: text" lines in order, the
// exact shape handed to every backend.
func Render(turns []transcript.Entry) string {
	var b strings.Builder
	for _, e := range turns {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", e.Speaker, text)
	}
	return b.String()
}

// Summarize runs the chain for one ended call. An empty transcript
// short-circuits with the sentinel and no backend call.
func (p *Pipeline) Summarize(ctx context.Context, turns []transcript.Entry) (Result, error) {
	rendered := Render(turns)
	if rendered == "" {
		return Result{Text: Unavailable}, ErrUnavailable
	}

	for _, backend := range p.Backends {
		text, err := backend.Summarize(ctx, systemDirective, rendered)
		if err != nil {
			logging.Warnw("summary: backend failed", "model", backend.Model(), "err", err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			logging.Warnw("summary: backend returned empty result", "model", backend.Model())
			continue
		}
		logging.Infow("summary: accepted", "model", backend.Model(), "len", len(text))
		return Result{Text: text, Model: backend.Model()}, nil
	}

	logging.Warnw("summary: all backends failed", "backends", len(p.Backends))
	return Result{Text: Unavailable}, ErrUnavailable
}
