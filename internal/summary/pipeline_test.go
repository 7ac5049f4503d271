package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/santa-voice-lab/internal/transcript"
)

type fakeBackend struct {
	model string
	text  string
	err   error
	calls int
}

func (f *fakeBackend) Summarize(ctx context.Context, system, transcriptText string) (string, error) {
	f.calls++
	return f.text, f.err
}

func (f *fakeBackend) Model() string { return f.model }

var sampleTurns = []transcript.Entry{
	{Speaker: "Child", Text: "I want a bike"},
	{Speaker: "Santa", Text: "Ho ho ho, a bike sounds wonderful!"},
}

func TestPipelineFallbackOrder(t *testing.T) {
	primary := &fakeBackend{model: "primary", err: errors.New("boom")}
	first := &fakeBackend{model: "fallback-1", text: "Ava (age 7) wants a bike; Santa responded warmly."}
	second := &fakeBackend{model: "fallback-2", text: "should never be reached"}
	p := NewPipeline(primary, first, second)

	res, err := p.Summarize(context.Background(), sampleTurns)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if res.Text != "Ava (age 7) wants a bike; Santa responded warmly." {
		t.Fatalf("text = %q", res.Text)
	}
	if res.Model != "fallback-1" {
		t.Fatalf("model = %q, want fallback-1", res.Model)
	}
	if primary.calls != 1 || first.calls != 1 || second.calls != 0 {
		t.Fatalf("call counts: %d %d %d", primary.calls, first.calls, second.calls)
	}
}

// An empty result counts as failure and moves the chain along.
func TestPipelineEmptyResultFallsThrough(t *testing.T) {
	primary := &fakeBackend{model: "primary", text: "   "}
	first := &fakeBackend{model: "fallback-1", text: "short summary"}
	p := NewPipeline(primary, first)

	res, err := p.Summarize(context.Background(), sampleTurns)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if res.Model != "fallback-1" || res.Text != "short summary" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPipelineAllBackendsFail(t *testing.T) {
	a := &fakeBackend{model: "a", err: ErrTransient}
	b := &fakeBackend{model: "b", err: ErrPermanent}
	c := &fakeBackend{model: "c", text: ""}
	p := NewPipeline(a, b, c)

	res, err := p.Summarize(context.Background(), sampleTurns)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if res.Text != Unavailable || res.Model != "" {
		t.Fatalf("unexpected sentinel result: %+v", res)
	}
	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Fatalf("each backend must be tried exactly once: %d %d %d", a.calls, b.calls, c.calls)
	}
}

func TestPipelineEmptyTranscriptShortCircuits(t *testing.T) {
	backend := &fakeBackend{model: "primary", text: "never"}
	p := NewPipeline(backend)

	res, err := p.Summarize(context.Background(), nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if res.Text != Unavailable {
		t.Fatalf("text = %q", res.Text)
	}
	if backend.calls != 0 {
		t.Fatal("backend called for empty transcript")
	}
}

func TestRenderOrderedLines(t *testing.T) {
	got := Render([]transcript.Entry{
		{Speaker: "Child", Text: " hi "},
		{Speaker: "Santa", Text: ""},
		{Speaker: "Santa", Text: "ho ho"},
	})
	want := "Child: hi\nSanta: ho ho\n"
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}

func TestOpenAIBackend(t *testing.T) {
	var gotModel string
	var gotSystem string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&p)
		gotModel = p.Model
		if len(p.Messages) > 0 {
			gotSystem = p.Messages[0].Content
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":" a fine summary "}}]}`)
	}))
	defer ts.Close()

	b := NewOpenAIBackend(ts.URL, "key", "gpt-4o")
	text, err := b.Summarize(context.Background(), "system prompt", "Child: hi\n")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if text != "a fine summary" {
		t.Fatalf("text = %q", text)
	}
	if gotModel != "gpt-4o" {
		t.Fatalf("model sent = %q", gotModel)
	}
	if gotSystem != "system prompt" {
		t.Fatalf("system message = %q", gotSystem)
	}
}

func TestOpenAIBackendErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{500, ErrTransient},
		{429, ErrTransient},
		{401, ErrPermanent},
		{404, ErrPermanent},
	}
	for _, tc := range cases {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		b := NewOpenAIBackend(ts.URL, "key", "gpt-4o")
		_, err := b.Summarize(context.Background(), "s", "t")
		ts.Close()
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestGeminiBackend(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "models/gemini-1.5-flash:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "gkey" {
			t.Errorf("missing key param")
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"gemini summary"}]}}]}`)
	}))
	defer ts.Close()

	b := NewGeminiBackend(ts.URL, "gkey", "gemini-1.5-flash")
	text, err := b.Summarize(context.Background(), "s", "Child: hi\n")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if text != "gemini summary" {
		t.Fatalf("text = %q", text)
	}
}
