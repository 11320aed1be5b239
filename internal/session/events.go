package session

import (
	"sync"
	"time"

	"github.com/skarch/logpanel/internal/logbuf"
	"github.com/skarch/logpanel/internal/metrics"
)

// EventKind identifies what changed.
type EventKind string

const (
	EventLog          EventKind = "log"
	EventState        EventKind = "state"
	EventMetrics      EventKind = "metrics"
	EventNotification EventKind = "notification"
)

// Notification levels.
const (
	NotifyInfo  = "info"
	NotifyError = "error"
)

// Notification is a user-facing message about an operation outcome.
type Notification struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Event is delivered to session subscribers. Exactly one payload field is
// set, matching Kind.
type Event struct {
	Kind         EventKind       `json:"kind"`
	ServerID     int             `json:"serverId"`
	Time         time.Time       `json:"time"`
	Line         *logbuf.Line    `json:"line,omitempty"`
	Status       *Status         `json:"status,omitempty"`
	Metrics      *metrics.Sample `json:"metrics,omitempty"`
	Notification *Notification   `json:"notification,omitempty"`
}

// Subscription receives session events on C. A subscriber that falls
// behind by more than its buffer is dropped: C is closed and Lagged
// reports true.
type Subscription struct {
	C <-chan Event

	ch     chan Event
	s      *Session
	once   sync.Once
	lagged bool
}

// Close unsubscribes. It is safe to call more than once.
func (sub *Subscription) Close() {
	sub.s.busMu.Lock()
	defer sub.s.busMu.Unlock()
	sub.s.dropLocked(sub, false)
}

// Lagged reports whether the subscription was dropped for falling behind.
func (sub *Subscription) Lagged() bool {
	sub.s.busMu.Lock()
	defer sub.s.busMu.Unlock()
	return sub.lagged
}

// Subscribe returns the current status and retained log lines together
// with a subscription that receives every later event, so nothing is
// missed or seen twice.
func (s *Session) Subscribe(size int) (Status, []logbuf.Line, *Subscription) {
	if size <= 0 {
		size = 256
	}
	ch := make(chan Event, size)
	sub := &Subscription{C: ch, ch: ch, s: s}

	s.busMu.Lock()
	defer s.busMu.Unlock()
	s.subs[sub] = struct{}{}
	return s.Status(), s.buf.Snapshot(), sub
}

func (s *Session) dropLocked(sub *Subscription, lagged bool) {
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	sub.lagged = lagged
	sub.once.Do(func() { close(sub.ch) })
}

// publish delivers ev to every subscriber without blocking.
func (s *Session) publish(ev Event) {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	s.publishLocked(ev)
}

func (s *Session) publishLocked(ev Event) {
	ev.ServerID = s.id
	if ev.Time.IsZero() {
		ev.Time = s.opts.Now()
	}
	for sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
			s.dropLocked(sub, true)
		}
	}
}

// appendLine adds a line to the buffer and announces it in one step.
func (s *Session) appendLine(src logbuf.Source, text string) logbuf.Line {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	line := s.buf.Append(src, text)
	s.publishLocked(Event{Kind: EventLog, Line: &line, Time: line.Time})
	return line
}

// publishState snapshots under busMu so state events go out in the order
// the states were observed.
func (s *Session) publishState() {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	st := s.Status()
	s.publishLocked(Event{Kind: EventState, Status: &st})
}

func (s *Session) notify(level, msg string) {
	s.publish(Event{Kind: EventNotification, Notification: &Notification{Level: level, Message: msg}})
}

func (s *Session) closeSubscribers() {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	for sub := range s.subs {
		s.dropLocked(sub, false)
	}
}
