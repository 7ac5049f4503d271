package call

import (
	"context"
	"fmt"
	"time"

	"github.com/santa-voice-lab/internal/logging"
	"github.com/santa-voice-lab/internal/profile"
	"github.com/santa-voice-lab/internal/realtime"
	"github.com/santa-voice-lab/internal/summary"
)

// Channel is the slice of the realtime client the bridge drives. It exists
// so tests can run a call against a fake transport.
type Channel interface {
	SendSessionUpdate(realtime.SessionConfig) error
	SendResponsePrompt(instructions string) error
	Run(ctx context.Context, handler func(raw []byte)) error
	Close()
}

// styleNudgeInstructions is re-sent after each caller turn so the model
// keeps the persona voice through long exchanges.
const styleNudgeInstructions = "Stay in character and keep the accent."

// BridgeConfig carries everything needed to drive one server-side call.
type BridgeConfig struct {
	CallID       string
	Profile      profile.Profile
	Session      realtime.SessionConfig
	Store        Appender
	Registry     *Registry
	Summarizer   *summary.Pipeline
	IdleInterval time.Duration
	TurnRefresh  int
}

// RunCall pumps the realtime event stream for one call into a session until
// the channel closes or ctx is cancelled, then flushes pending turns and
// summarizes the finished transcript. The session is registered for the
// duration of the call and evicted on the way out.
func RunCall(ctx context.Context, ch Channel, cfg BridgeConfig) (summary.Result, error) {
	idleNudge := fmt.Sprintf(
		"The caller has gone quiet. Warmly check whether %s is still there, in one short sentence.",
		cfg.Profile.DisplayName())

	hooks := Hooks{
		RefreshPersona: func() error { return ch.SendSessionUpdate(cfg.Session) },
		StyleNudge:     func() error { return ch.SendResponsePrompt(styleNudgeInstructions) },
		IdleNudge:      func() error { return ch.SendResponsePrompt(idleNudge) },
	}

	s := NewSession(cfg.CallID, cfg.Profile, cfg.Store, hooks, cfg.TurnRefresh)
	if cfg.Registry != nil {
		cfg.Registry.Put(s)
		defer cfg.Registry.Evict(cfg.CallID)
	}
	s.StartIdleWatchdog(cfg.IdleInterval)

	runErr := ch.Run(ctx, func(raw []byte) {
		evt, err := realtime.DecodeEvent(raw)
		if err != nil {
			logging.Debugw("bridge: dropping malformed event", append(logging.CallFields(cfg.CallID, ""), "err", err)...)
			return
		}
		s.HandleEvent(evt)
	})

	reason := "channel closed"
	if runErr != nil {
		reason = "transport error"
	}
	// Flush pending turns and stop the watchdog before summarizing, so the
	// summarizer sees the complete ordered log.
	s.End(reason)
	ch.Close()

	if cfg.Summarizer == nil {
		return summary.Result{Text: summary.Unavailable}, runErr
	}

	sumCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	res, sumErr := cfg.Summarizer.Summarize(sumCtx, s.Transcript())
	if sumErr != nil {
		logging.Warnw("bridge: summarization failed", append(logging.CallFields(cfg.CallID, ""), "err", sumErr)...)
	}
	if runErr != nil {
		return res, runErr
	}
	return res, nil
}
