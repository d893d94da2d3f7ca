package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/wapanel/wapanel/internal/bus"
)

// State represents a device's protocol connection state.
type State string

const (
	Offline      State = "OFFLINE"
	Pairing      State = "PAIRING"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	LoggedOut    State = "LOGGED_OUT"
	Error        State = "ERROR"
)

// validTransitions defines allowed connection-state transitions.
var validTransitions = map[State][]State{
	Offline:      {Pairing, Connecting, Error},
	Pairing:      {Connecting, Offline, Error},
	Connecting:   {Syncing, Pairing, Reconnecting, LoggedOut, Error},
	Syncing:      {Ready, Reconnecting, LoggedOut, Error},
	Ready:        {Reconnecting, LoggedOut, Error},
	Reconnecting: {Connecting, Syncing, Ready, LoggedOut, Error},
	LoggedOut:    {Pairing, Offline, Error},
	Error:        {Offline, Connecting},
}

// Machine tracks one device's connection state and enforces transitions.
// The protocol client is the external collaborator that owns retries and
// timeouts; the machine only reflects the resulting state changes.
type Machine struct {
	mu      sync.RWMutex
	device  string
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine for a device, starting Offline.
func NewMachine(device string, b *bus.Bus) *Machine {
	return &Machine{device: device, current: Offline, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error on an
// invalid transition; the current state is unchanged in that case.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "device.state_changed",
			Device:    m.device,
			Timestamp: time.Now(),
			Payload:   Change{From: from, To: to},
		})
	}
	return nil
}

// Change is the payload for state change events.
type Change struct {
	From State
	To   State
}
