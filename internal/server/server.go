// Package server exposes the hotline's HTTP surface: session creation,
// transcript ingestion, post-call summarization, and the static caller UI.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/santa-voice-lab/internal/call"
	"github.com/santa-voice-lab/internal/logging"
	"github.com/santa-voice-lab/internal/profile"
	"github.com/santa-voice-lab/internal/summary"
	"github.com/santa-voice-lab/internal/transcript"
)

// transcriptionModel is sent with session creation so the upstream provider
// streams caller speech back as text for logging.
const transcriptionModel = "gpt-4o-mini-transcribe"

// Config holds the settings the HTTP surface needs. UpstreamBaseURL should
// include the /v1 prefix (e.g. https://api.openai.com/v1).
type Config struct {
	APIKey          string
	Model           string
	Voice           string
	UpstreamBaseURL string
	PublicDir       string
	TurnRefresh     int
}

// Server wires the routes to the per-call registry, the transcript store,
// and the summarization chain. store may be nil when the transcript
// directory could not be created at startup.
type Server struct {
	cfg        Config
	store      *transcript.Store
	registry   *call.Registry
	summarizer *summary.Pipeline
	upstream   *http.Client
}

func New(cfg Config, store *transcript.Store, registry *call.Registry, summarizer *summary.Pipeline) *Server {
	if cfg.UpstreamBaseURL == "" {
		cfg.UpstreamBaseURL = "https://api.openai.com/v1"
	}
	cfg.UpstreamBaseURL = strings.TrimRight(cfg.UpstreamBaseURL, "/")
	if registry == nil {
		registry = call.NewRegistry()
	}
	return &Server{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		summarizer: summarizer,
		upstream:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Handler returns the full route tree with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", s.handleSession)
	mux.HandleFunc("/transcript", s.handleTranscript)
	mux.HandleFunc("/summarize", s.handleSummarize)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleStatic)
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleSession allocates a call id and transcript artifact, builds the
// persona instructions, and proxies session creation to the upstream
// realtime API. The credential is checked before anything leaves the
// process.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.cfg.APIKey == "" {
		writeError(w, http.StatusInternalServerError, "OPENAI_API_KEY missing from environment.")
		return
	}

	// A malformed or absent body means an anonymous caller, not an error.
	var body struct {
		Profile profile.Profile `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		body.Profile = profile.Profile{}
	}
	p := body.Profile

	sessionID := uuid.NewString()
	instructions := profile.BuildInstructions(p)

	// Best effort: the call proceeds even when the transcript artifact
	// cannot be created.
	if s.store != nil {
		if err := s.store.StartSession(sessionID, p); err != nil {
			logging.Warnw("server: unable to start transcript log",
				append(logging.CallFields(sessionID, ""), "err", err)...)
		}
	}

	remote, status, err := s.createUpstreamSession(r.Context(), instructions)
	if err != nil {
		logging.Errorw("server: realtime session creation failed",
			append(logging.CallFields(sessionID, ""), "err", err)...)
		writeError(w, http.StatusInternalServerError, "Realtime session creation failed")
		return
	}
	if status < 200 || status >= 300 {
		msg := strings.TrimSpace(string(remote))
		if msg == "" {
			msg = "Unable to create realtime session"
		}
		writeError(w, status, msg)
		return
	}

	var appender call.Appender
	if s.store != nil {
		appender = s.store
	}
	s.registry.Put(call.NewSession(sessionID, p, appender, call.Hooks{}, s.cfg.TurnRefresh))
	logging.Infow("server: session created",
		append(logging.CallFields(sessionID, ""), "model", s.cfg.Model, "displayName", p.DisplayName())...)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId":            sessionID,
		"model":                s.cfg.Model,
		"instructions":         instructions,
		"displayName":          p.DisplayName(),
		"remoteSessionPayload": json.RawMessage(remote),
	})
}

// createUpstreamSession POSTs to the provider's realtime session endpoint
// and returns the raw response body plus status. A transport failure is the
// only error path; non-2xx statuses are returned to the caller verbatim.
func (s *Server) createUpstreamSession(ctx context.Context, instructions string) ([]byte, int, error) {
	payload := map[string]interface{}{
		"model":        s.cfg.Model,
		"voice":        s.cfg.Voice,
		"instructions": instructions,
		"input_audio_transcription": map[string]string{
			"model": transcriptionModel,
		},
	}
	raw, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.UpstreamBaseURL+"/realtime/sessions", bytes.NewReader(raw))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", "realtime=v1")

	resp, err := s.upstream.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("upstream session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("upstream session read: %w", err)
	}
	return body, resp.StatusCode, nil
}

// handleTranscript appends finalized entries from the browser client to the
// per-call transcript artifact.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var body struct {
		SessionID string          `json:"sessionId"`
		Entries   json.RawMessage `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "sessionId and entries are required")
		return
	}
	if body.SessionID == "" || !isJSONArray(body.Entries) {
		writeError(w, http.StatusBadRequest, "sessionId and entries are required")
		return
	}
	var entries []transcript.Entry
	if err := json.Unmarshal(body.Entries, &entries); err != nil {
		writeError(w, http.StatusBadRequest, "sessionId and entries are required")
		return
	}

	if s.store == nil {
		writeError(w, http.StatusInternalServerError, "Could not write transcript")
		return
	}
	if err := s.store.AppendEntries(body.SessionID, entries); err != nil {
		logging.Warnw("server: transcript append failed",
			append(logging.CallFields(body.SessionID, ""), "err", err)...)
		writeError(w, http.StatusInternalServerError, "Could not write transcript")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleSummarize runs the finished call's ordered turns through the
// fallback chain. An optional model field replaces the primary backend for
// this request only.
func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var body struct {
		SessionID string             `json:"sessionId"`
		Turns     []transcript.Entry `json:"turns"`
		Model     string             `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Turns) == 0 {
		writeError(w, http.StatusBadRequest, "turns are required")
		return
	}

	// Summarization marks the end of a call; release its registry slot.
	if body.SessionID != "" {
		if sess := s.registry.Evict(body.SessionID); sess != nil {
			sess.End("summarized")
		}
	}
	if s.cfg.APIKey == "" {
		writeError(w, http.StatusInternalServerError, "OPENAI_API_KEY missing from environment.")
		return
	}

	pipeline := s.summarizer
	if body.Model != "" && pipeline != nil {
		backends := []summary.Backend{
			summary.NewOpenAIBackend(s.cfg.UpstreamBaseURL, s.cfg.APIKey, body.Model),
		}
		if len(pipeline.Backends) > 1 {
			backends = append(backends, pipeline.Backends[1:]...)
		}
		pipeline = summary.NewPipeline(backends...)
	}
	if pipeline == nil {
		writeError(w, http.StatusInternalServerError, "Could not summarize call")
		return
	}

	res, err := pipeline.Summarize(r.Context(), body.Turns)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not summarize call")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStatic serves the caller UI with an index.html fallback so the
// single-page app owns unknown GET paths.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.NotFound(w, r)
		return
	}
	if s.cfg.PublicDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(filepath.Clean("/"+r.URL.Path), "/")
	if rel == "" {
		rel = "index.html"
	}
	target := filepath.Join(s.cfg.PublicDir, rel)
	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		http.ServeFile(w, r, target)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.cfg.PublicDir, "index.html"))
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debugw("server: response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
