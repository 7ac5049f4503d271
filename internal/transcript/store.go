// Package transcript persists one append-only, human-readable text log per
// call. The store is a dumb, crash-safe sink: it never deduplicates and
// never rewrites a line once appended.
package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santa-voice-lab/internal/profile"
)

// Entry is one finalized utterance destined for the call log.
type Entry struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Store writes per-call transcript artifacts under a base directory. File
// paths are namespaced by call id, so concurrent calls never contend on the
// same file.
type Store struct {
	baseDir string
	now     func() time.Time
}

// NewStore ensures the backing directory exists and returns a store rooted
// there. The only fatal condition is an uncreatable directory.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("transcript dir %s: %w", baseDir, err)
	}
	return &Store{baseDir: baseDir, now: time.Now}, nil
}

// Path returns the artifact path for a call id.
func (s *Store) Path(id string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("santa-call-%s.txt", id))
}

// StartSession creates the call artifact with a human-readable header
// describing the child, followed by a separator line. The header is written
// atomically (tmp + fsync + rename) so a crash never leaves a torn file.
func (s *Store) StartSession(id string, p profile.Profile) error {
	lines := []string{
		"Santa Call started " + s.now().UTC().Format(time.RFC3339),
	}
	child := "Child: "
	if p.Name != "" {
		child += p.Name
	} else {
		child += "Unknown"
	}
	if p.Age != "" {
		child += fmt.Sprintf(" (age %s)", p.Age)
	}
	lines = append(lines, child)
	if p.Pronouns != "" {
		lines = append(lines, "Pronouns: "+p.Pronouns)
	} else {
		lines = append(lines, "Pronouns: n/a")
	}
	if p.Wishlist != "" {
		lines = append(lines, "Wishlist: "+p.Wishlist)
	}
	if p.Wins != "" {
		lines = append(lines, "Recent wins: "+p.Wins)
	}
	if p.Favorites != "" {
		lines = append(lines, "Favorites: "+p.Favorites)
	}
	if p.Notes != "" {
		lines = append(lines, "Notes: "+p.Notes)
	}
	lines = append(lines, "---")

	data := []byte(strings.Join(lines, "\n") + "\n")
	return writeFileAtomic(s.Path(id), data, 0o644)
}

// AppendEntries appends one timestamped line per non-empty entry, in the
// order given. Entries with empty text are skipped. If the artifact does not
// exist the append is a hard error; the store never fabricates a new file
// mid-call.
func (s *Store) AppendEntries(id string, entries []Entry) error {
	path := s.Path(id)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("transcript %s not started: %w", id, err)
	}

	ts := s.now().UTC().Format(time.RFC3339)
	var b strings.Builder
	for _, e := range entries {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		speaker := e.Speaker
		if speaker == "" {
			speaker = "Unknown"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", ts, speaker, text)
	}
	if b.Len() == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript %s: %w", id, err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return fmt.Errorf("append transcript %s: %w", id, err)
	}
	return f.Close()
}

// writeFileAtomic writes data to path by writing a tmp file in the same
// directory, fsyncing, closing, and renaming into place.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
