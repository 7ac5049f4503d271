package call

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/santa-voice-lab/internal/profile"
	"github.com/santa-voice-lab/internal/realtime"
	"github.com/santa-voice-lab/internal/transcript"
)

// recordingStore captures every append so tests can assert ordering.
type recordingStore struct {
	mu      sync.Mutex
	appends [][]transcript.Entry
	fail    bool
}

func (r *recordingStore) AppendEntries(id string, entries []transcript.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errWriteFailed
	}
	cp := make([]transcript.Entry, len(entries))
	copy(cp, entries)
	r.appends = append(r.appends, cp)
	return nil
}

func (r *recordingStore) flat() []transcript.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []transcript.Entry
	for _, batch := range r.appends {
		out = append(out, batch...)
	}
	return out
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errWriteFailed = testErr("write failed")

func userDelta(text string) realtime.Event {
	return realtime.Event{Kind: realtime.UserDelta, Text: text}
}

func userFinal(text string) realtime.Event {
	return realtime.Event{Kind: realtime.UserFinal, Text: text}
}

func santaDelta(text string) realtime.Event {
	return realtime.Event{Kind: realtime.SantaDelta, Text: text}
}

func santaFinal(text string) realtime.Event {
	return realtime.Event{Kind: realtime.SantaFinal, Text: text}
}

func TestPartialsThenFinalProduceOneTurn(t *testing.T) {
	store := &recordingStore{}
	s := NewSession("c1", profile.Profile{Name: "Ava"}, store, Hooks{}, 0)

	s.HandleEvent(userDelta("I want"))
	s.HandleEvent(userDelta(" a bike"))
	s.HandleEvent(userFinal("I want a bike"))

	log := s.Transcript()
	if len(log) != 1 {
		t.Fatalf("log length = %d, want 1", len(log))
	}
	if log[0].Speaker != "Ava" || log[0].Text != "I want a bike" {
		t.Fatalf("unexpected entry: %+v", log[0])
	}
	if got := store.flat(); len(got) != 1 || got[0].Text != "I want a bike" {
		t.Fatalf("store appends = %+v", got)
	}
}

// A final event without explicit text falls back to the concatenated partials.
func TestFinalWithoutTextUsesPendingBuffer(t *testing.T) {
	s := NewSession("c1", profile.Profile{}, nil, Hooks{}, 0)

	s.HandleEvent(santaDelta("Ho ho "))
	s.HandleEvent(santaDelta("ho!"))
	s.HandleEvent(santaFinal(""))

	log := s.Transcript()
	if len(log) != 1 {
		t.Fatalf("log length = %d, want 1", len(log))
	}
	if log[0].Speaker != SantaSpeaker || log[0].Text != "Ho ho ho!" {
		t.Fatalf("unexpected entry: %+v", log[0])
	}
}

func TestDuplicateFinalSuppressed(t *testing.T) {
	s := NewSession("c1", profile.Profile{Name: "Ava"}, nil, Hooks{}, 0)

	s.HandleEvent(userFinal("I want a bike"))
	s.HandleEvent(userFinal("I want a bike")) // redelivered by transport
	s.HandleEvent(userFinal("and a hat"))

	log := s.Transcript()
	if len(log) != 2 {
		t.Fatalf("log length = %d, want 2: %+v", len(log), log)
	}
	if log[0].Text != "I want a bike" || log[1].Text != "and a hat" {
		t.Fatalf("unexpected log: %+v", log)
	}
}

func TestEndFlushesPendingBuffersCallerFirst(t *testing.T) {
	store := &recordingStore{}
	s := NewSession("c1", profile.Profile{Name: "Ava"}, store, Hooks{}, 0)

	s.HandleEvent(userDelta("can I also"))
	s.HandleEvent(santaDelta("Of course"))
	s.End("hangup")

	log := s.Transcript()
	if len(log) != 2 {
		t.Fatalf("log length = %d, want 2: %+v", len(log), log)
	}
	if log[0].Speaker != "Ava" || log[0].Text != "can I also" {
		t.Fatalf("caller flush wrong: %+v", log[0])
	}
	if log[1].Speaker != SantaSpeaker || log[1].Text != "Of course" {
		t.Fatalf("santa flush wrong: %+v", log[1])
	}
	if got := store.flat(); len(got) != 2 {
		t.Fatalf("store received %d entries, want 2", len(got))
	}

	// End is idempotent and later events are ignored.
	s.End("again")
	s.HandleEvent(userFinal("too late"))
	if len(s.Transcript()) != 2 {
		t.Fatal("events applied after End")
	}
}

func TestPersonaRefreshEveryNthSantaTurn(t *testing.T) {
	var refreshes int32
	hooks := Hooks{RefreshPersona: func() error {
		atomic.AddInt32(&refreshes, 1)
		return nil
	}}
	s := NewSession("c1", profile.Profile{}, nil, hooks, 2)

	for i, text := range []string{"one", "two", "three", "four"} {
		s.HandleEvent(santaFinal(text))
		want := int32((i + 1) / 2)
		if got := atomic.LoadInt32(&refreshes); got != want {
			t.Fatalf("after turn %d refreshes = %d, want %d", i+1, got, want)
		}
	}
}

func TestStyleNudgeAfterCallerFinal(t *testing.T) {
	var nudges int32
	hooks := Hooks{StyleNudge: func() error {
		atomic.AddInt32(&nudges, 1)
		return nil
	}}
	s := NewSession("c1", profile.Profile{Name: "Ava"}, nil, hooks, 0)

	s.HandleEvent(userFinal("hello santa"))
	s.HandleEvent(santaFinal("ho ho ho"))
	if got := atomic.LoadInt32(&nudges); got != 1 {
		t.Fatalf("style nudges = %d, want 1", got)
	}
}

// A store failure is logged and dropped; the in-memory log keeps growing.
func TestStoreFailureDoesNotBlockCall(t *testing.T) {
	store := &recordingStore{fail: true}
	s := NewSession("c1", profile.Profile{Name: "Ava"}, store, Hooks{}, 0)

	s.HandleEvent(userFinal("still talking"))
	if len(s.Transcript()) != 1 {
		t.Fatal("entry lost on store failure")
	}
}

func TestIdleWatchdogFiresOnceAndReschedules(t *testing.T) {
	var nudges int32
	hooks := Hooks{IdleNudge: func() error {
		atomic.AddInt32(&nudges, 1)
		return nil
	}}
	s := NewSession("c1", profile.Profile{}, nil, hooks, 0)
	s.StartIdleWatchdog(30 * time.Millisecond)

	time.Sleep(45 * time.Millisecond)
	if got := atomic.LoadInt32(&nudges); got != 1 {
		t.Fatalf("nudges after one interval = %d, want 1", got)
	}

	// No activity: the rescheduled timer fires again.
	time.Sleep(35 * time.Millisecond)
	if got := atomic.LoadInt32(&nudges); got != 2 {
		t.Fatalf("nudges after second interval = %d, want 2", got)
	}

	// Activity resets the timer.
	s.HandleEvent(userDelta("hi"))
	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&nudges); got != 2 {
		t.Fatalf("nudge fired despite recent activity: %d", got)
	}

	s.End("hangup")
	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt32(&nudges); got != 2 {
		t.Fatalf("nudge fired after End: %d", got)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	s := NewSession("c1", profile.Profile{}, nil, Hooks{}, 0)

	r.Put(s)
	if r.Get("c1") != s {
		t.Fatal("Get did not return registered session")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d", r.Len())
	}
	if got := r.Evict("c1"); got != s {
		t.Fatal("Evict did not return the session")
	}
	if r.Get("c1") != nil || r.Len() != 0 {
		t.Fatal("session not removed")
	}
	if r.Evict("c1") != nil {
		t.Fatal("double evict returned a session")
	}
}
