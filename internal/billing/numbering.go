package billing

import (
	"strings"
	"sync"
	"time"
)

const (
	numberPrefix = "BILL"
	numberLayout = "20060102150405"
)

// Numberer allocates bill numbers of the form BILL + YYYYMMDDHHMMSS. Numbers
// handed out by one Numberer strictly increase, so two bills generated within
// the same second get consecutive seconds.
type Numberer struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// Location defaults to the local zone.
	Location *time.Location

	mu   sync.Mutex
	last time.Time
}

// Next returns a fresh bill number and the instant it encodes.
func (n *Numberer) Next() (string, time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	t := now().Truncate(time.Second)
	if !n.last.IsZero() && !t.After(n.last) {
		t = n.last.Add(time.Second)
	}
	n.last = t
	return n.format(t), t
}

// After returns a number strictly later than taken, used when taken already
// exists in the store.
func (n *Numberer) After(taken string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	loc := n.loc()
	t, err := time.ParseInLocation(numberLayout, strings.TrimPrefix(taken, numberPrefix), loc)
	if err == nil && t.After(n.last) {
		n.last = t
	}
	n.last = n.last.Add(time.Second)
	return n.format(n.last)
}

func (n *Numberer) loc() *time.Location {
	if n.Location != nil {
		return n.Location
	}
	return time.Local
}

func (n *Numberer) format(t time.Time) string {
	return numberPrefix + t.In(n.loc()).Format(numberLayout)
}
