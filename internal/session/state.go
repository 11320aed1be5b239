package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/skarch/logpanel/internal/metrics"
)

// State is the lifecycle position of a session.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Starting
	Running
	Stopping
	Disconnected
)

var stateNames = [...]string{
	Idle:         "idle",
	Connecting:   "connecting",
	Connected:    "connected",
	Starting:     "starting",
	Running:      "running",
	Stopping:     "stopping",
	Disconnected: "disconnected",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalJSON renders the state name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts a state name.
func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", name)
}

// Status is a consistent snapshot of a session. Metrics are last-known;
// surfaces should not show them when Connected is false.
type Status struct {
	ServerID   int            `json:"serverId"`
	State      State          `json:"state"`
	Connected  bool           `json:"connected"`
	Running    bool           `json:"running"`
	Metrics    metrics.Sample `json:"metrics"`
	HasMetrics bool           `json:"hasMetrics"`
	StartedAt  time.Time      `json:"startedAt,omitempty"`
	RunID      string         `json:"runId,omitempty"`
	// LastExitCode is the status of the most recent run, -1 if unknown.
	LastExitCode int `json:"lastExitCode"`
}
