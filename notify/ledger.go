// Package notify keeps the one-shot notification state between runs and
// sends the templated mails the sync tools raise. The ledger makes repeated
// runs idempotent: a milestone mailed once is never mailed again until its
// entry is cleared.
package notify

import (
	"bytes"
	"encoding/json"
	"os"
	"time"

	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// Ledger is the persisted subject -> milestone -> sent-at mapping. Every
// change is written back immediately with a temp-file-then-rename, so a
// crash mid-run never truncates the state. Concurrent runs of the same tool
// are prevented outside this package.
type Ledger struct {
	path    string
	clock   clock.PassiveClock
	entries map[string]map[string]time.Time
}

// OpenLedger reads the state file. A missing file is an empty ledger.
func OpenLedger(path string, clk clock.PassiveClock) (*Ledger, error) {
	ledger := &Ledger{
		path:    path,
		clock:   clk,
		entries: make(map[string]map[string]time.Time),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ledger, nil
		}
		return nil, errors.Wrapf(err, "failed to read notification state %s", path)
	}
	if err := json.Unmarshal(data, &ledger.entries); err != nil {
		return nil, errors.Wrapf(err, "failed to decode notification state %s", path)
	}
	return ledger, nil
}

// HasSent reports whether the milestone was already sent to the subject.
func (l *Ledger) HasSent(subject, milestone string) bool {
	_, ok := l.entries[subject][milestone]
	return ok
}

// SentAt returns the time the milestone was last sent to the subject.
func (l *Ledger) SentAt(subject, milestone string) (time.Time, bool) {
	at, ok := l.entries[subject][milestone]
	return at, ok
}

// MarkSent stamps the milestone with the current time and persists the
// ledger. Re-marking an already-sent milestone refreshes its timestamp.
func (l *Ledger) MarkSent(subject, milestone string) error {
	if l.entries[subject] == nil {
		l.entries[subject] = make(map[string]time.Time)
	}
	l.entries[subject][milestone] = l.clock.Now()
	return l.persist()
}

// Clear drops all state of the subject, used once the triggering condition
// no longer holds.
func (l *Ledger) Clear(subject string) error {
	if _, ok := l.entries[subject]; !ok {
		return nil
	}
	delete(l.entries, subject)
	return l.persist()
}

func (l *Ledger) persist() error {
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode notification state")
	}
	if err := atomic.WriteFile(l.path, bytes.NewReader(data)); err != nil {
		return errors.Wrapf(err, "failed to write notification state %s", l.path)
	}
	return nil
}
