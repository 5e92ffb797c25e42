package alerts

import (
	"errors"
	"sync"
)

// ErrAlertNotFound is returned when dismissing an alert that is not live
var ErrAlertNotFound = errors.New("triggered alert not found")

// Inbox holds the live triggered alerts until they are dismissed.
// A definition with a live alert does not fire again.
type Inbox struct {
	mu     sync.RWMutex
	alerts []TriggeredAlert
}

// NewInbox creates an empty inbox
func NewInbox() *Inbox {
	return &Inbox{}
}

// Present appends newly triggered alerts
func (i *Inbox) Present(alerts ...TriggeredAlert) {
	if len(alerts) == 0 {
		return
	}
	i.mu.Lock()
	i.alerts = append(i.alerts, alerts...)
	i.mu.Unlock()
}

// Dismiss removes the alert with the given id and returns it
func (i *Inbox) Dismiss(id string) (TriggeredAlert, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for idx, a := range i.alerts {
		if a.ID == id {
			i.alerts = append(i.alerts[:idx], i.alerts[idx+1:]...)
			return a, nil
		}
	}
	return TriggeredAlert{}, ErrAlertNotFound
}

// List returns a copy of the live alerts, oldest first
func (i *Inbox) List() []TriggeredAlert {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]TriggeredAlert, len(i.alerts))
	copy(out, i.alerts)
	return out
}
