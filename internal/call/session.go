// Package call owns per-call state: the turn accumulator that reconstructs
// an ordered transcript from the realtime event stream, the registry of
// active calls, and the idle nudge watchdog.
package call

import (
	"strings"
	"sync"
	"time"

	"github.com/santa-voice-lab/internal/logging"
	"github.com/santa-voice-lab/internal/profile"
	"github.com/santa-voice-lab/internal/realtime"
	"github.com/santa-voice-lab/internal/transcript"
)

// SantaSpeaker is the fixed persona label used on transcript entries.
const SantaSpeaker = "Santa"

// DefaultTurnRefreshInterval is how many finalized Santa turns pass between
// persona instruction refreshes.
const DefaultTurnRefreshInterval = 4

// Appender is the slice of the transcript store a session needs.
type Appender interface {
	AppendEntries(id string, entries []transcript.Entry) error
}

// Hooks are the session's outbound side effects. Any hook may be nil.
type Hooks struct {
	// RefreshPersona re-sends the persona instruction payload. Invoked every
	// Nth finalized Santa turn to guard against instruction drift.
	RefreshPersona func() error
	// StyleNudge fires after each finalized caller turn.
	StyleNudge func() error
	// IdleNudge injects a synthetic "are you still there" prompt when the
	// idle watchdog fires.
	IdleNudge func() error
}

// Session is the mutable state for one call. All transitions happen on
// delivery of one inbound event or one timer firing; the mutex serializes
// the timer callback against the event path.
type Session struct {
	ID      string
	Profile profile.Profile

	mu            sync.Mutex
	displayName   string
	pendingCaller string
	pendingSanta  string
	log           []transcript.Entry
	santaTurns    int
	refreshEvery  int
	store         Appender
	hooks         Hooks
	idleTimer     *time.Timer
	idleInterval  time.Duration
	ended         bool
}

// NewSession creates the per-call state object. store may be nil when the
// transcript logger failed to start; the call proceeds without durability.
func NewSession(id string, p profile.Profile, store Appender, hooks Hooks, refreshEvery int) *Session {
	if refreshEvery <= 0 {
		refreshEvery = DefaultTurnRefreshInterval
	}
	return &Session{
		ID:           id,
		Profile:      p,
		displayName:  p.DisplayName(),
		refreshEvery: refreshEvery,
		store:        store,
		hooks:        hooks,
	}
}

// HandleEvent applies one normalized realtime event to the accumulator.
// Events after End are ignored.
func (s *Session) HandleEvent(evt realtime.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}

	switch evt.Kind {
	case realtime.UserDelta:
		s.pendingCaller += evt.Text
		s.touchLocked()
	case realtime.UserFinal:
		s.finalizeLocked(s.displayName, evt.Text, &s.pendingCaller)
		if s.hooks.StyleNudge != nil {
			if err := s.hooks.StyleNudge(); err != nil {
				logging.Debugw("call: style nudge failed", append(logging.CallFields(s.ID, ""), "err", err)...)
			}
		}
		s.touchLocked()
	case realtime.SantaDelta:
		s.pendingSanta += evt.Text
		s.touchLocked()
	case realtime.SantaFinal:
		if s.finalizeLocked(SantaSpeaker, evt.Text, &s.pendingSanta) {
			s.santaTurns++
			if s.refreshEvery > 0 && s.santaTurns%s.refreshEvery == 0 && s.hooks.RefreshPersona != nil {
				if err := s.hooks.RefreshPersona(); err != nil {
					logging.Warnw("call: persona refresh failed", append(logging.CallFields(s.ID, ""), "err", err)...)
				}
			}
		}
		s.touchLocked()
	case realtime.ErrorEvent:
		logging.Warnw("call: upstream error event", append(logging.CallFields(s.ID, ""), "payload", string(evt.Raw))...)
	default:
		logging.Debugw("call: unrecognized event", append(logging.CallFields(s.ID, ""), "type", evt.Type)...)
	}
}

// finalizeLocked commits one turn. The explicit final text wins over the
// pending buffer; the buffer is cleared either way. Returns whether an entry
// was actually retained (empty and duplicate turns are not).
func (s *Session) finalizeLocked(speaker, finalText string, pending *string) bool {
	text := finalText
	if text == "" {
		text = *pending
	}
	*pending = ""

	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	// The upstream transport is known to redeliver final events; drop an
	// entry identical to the previous one.
	if n := len(s.log); n > 0 && s.log[n-1].Speaker == speaker && s.log[n-1].Text == text {
		logging.Debugw("call: suppressed duplicate turn", logging.CallFields(s.ID, speaker)...)
		return false
	}

	entry := transcript.Entry{Speaker: speaker, Text: text}
	s.log = append(s.log, entry)
	s.persistLocked([]transcript.Entry{entry})
	return true
}

// persistLocked appends entries to the store. A write failure is logged and
// the live call continues; durability is best-effort per entry.
func (s *Session) persistLocked(entries []transcript.Entry) {
	if s.store == nil {
		return
	}
	if err := s.store.AppendEntries(s.ID, entries); err != nil {
		logging.Warnw("call: transcript append failed", append(logging.CallFields(s.ID, ""), "err", err)...)
	}
}

// End flushes both pending buffers as finalized entries (caller first, then
// Santa), cancels the idle watchdog, and moves the session to its terminal
// state. Safe to call more than once.
func (s *Session) End(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true

	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}

	s.finalizeLocked(s.displayName, "", &s.pendingCaller)
	s.finalizeLocked(SantaSpeaker, "", &s.pendingSanta)

	logging.Infow("call: ended", append(logging.CallFields(s.ID, ""), "reason", reason, "turns", len(s.log))...)
}

// Transcript returns the finalized ordered log.
func (s *Session) Transcript() []transcript.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcript.Entry, len(s.log))
	copy(out, s.log)
	return out
}

// DisplayName returns the caller's speaker label.
func (s *Session) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayName
}

// StartIdleWatchdog arms the single-timer nudge scheduler. The timer resets
// on every inbound event; when it fires with no intervening activity it
// invokes the IdleNudge hook once and reschedules itself.
func (s *Session) StartIdleWatchdog(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.idleInterval = interval
	s.idleTimer = time.AfterFunc(interval, s.idleFired)
}

func (s *Session) idleFired() {
	s.mu.Lock()
	if s.ended || s.idleTimer == nil {
		s.mu.Unlock()
		return
	}
	nudge := s.hooks.IdleNudge
	s.idleTimer.Reset(s.idleInterval)
	s.mu.Unlock()

	if nudge == nil {
		return
	}
	logging.Infow("call: idle nudge", logging.CallFields(s.ID, "")...)
	if err := nudge(); err != nil {
		logging.Warnw("call: idle nudge failed", append(logging.CallFields(s.ID, ""), "err", err)...)
	}
}

// touchLocked resets the idle watchdog after any turn-boundary activity.
func (s *Session) touchLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Reset(s.idleInterval)
	}
}
