// Package summary turns a finished call transcript into a short
// parent-facing summary by walking an ordered chain of chat backends.
package summary

import (
	"context"
	"errors"
)

var (
	// ErrTransient marks failures worth retrying on another backend
	// (network errors, 5xx, rate limits).
	ErrTransient = errors.New("transient error")
	// ErrPermanent marks failures that would recur (bad credentials, 4xx).
	// The chain still moves on: a later backend may use different auth.
	ErrPermanent = errors.New("permanent error")
	// ErrUnavailable means every backend in the chain failed or returned an
	// empty body.
	ErrUnavailable = errors.New("summary unavailable")
)

// Unavailable is the fixed caller-facing text used when summarization fails
// outright. The UI shows it instead of blocking call teardown.
const Unavailable = "Summary unavailable."

// systemDirective is the fixed instruction sent to every backend.
const systemDirective = "You summarize a child's phone call with Santa for the parent. " +
	"Write at most 80 words, warm but factual. Mention names, ages, pronouns, " +
	"wishlist items, favorites, recent wins, and any boundaries that came up. " +
	"Never promise gifts or imply anything was guaranteed."

// Backend is one summarization model endpoint. Each backend is tried at most
// once per request.
type Backend interface {
	// Summarize sends the rendered transcript and returns the model's text.
	Summarize(ctx context.Context, system, transcriptText string) (string, error)
	// Model identifies which model produced a result.
	Model() string
}
