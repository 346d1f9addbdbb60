// Package lifecycle holds the vocabulary shared by the worker host and the
// pages it serves: worker states, page-to-worker messages and worker-to-page
// notifications. Each set is closed.
package lifecycle

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle position of one worker instance.
type State int

const (
	Installing State = iota
	// Waiting is the installed state: ready, but not yet controlling pages.
	Waiting
	Activating
	Active
	Redundant
)

func (s State) String() string {
	switch s {
	case Installing:
		return "installing"
	case Waiting:
		return "waiting"
	case Activating:
		return "activating"
	case Active:
		return "active"
	case Redundant:
		return "redundant"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st := Installing; st <= Redundant; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown worker state %q", b)
}

// MessageType tags a page-to-worker message.
type MessageType string

// SkipWaiting asks a waiting worker to become active now.
const SkipWaiting MessageType = "SKIP_WAITING"

// Message is a page-to-worker message. The wire form is {"type":"..."}.
type Message struct {
	Type MessageType `json:"type"`
}

// Known reports whether the worker acts on m.
func (m Message) Known() bool { return m.Type == SkipWaiting }

// ParseMessage decodes a wire message. Malformed payloads decode to the zero
// Message, which workers ignore.
func ParseMessage(data []byte) Message {
	var m Message
	if json.Unmarshal(data, &m) != nil {
		return Message{}
	}
	return m
}

// Notification is a worker-to-page event. The set is closed: WaitingInstalled
// and ControllerChanged.
type Notification interface {
	notification()
	Kind() string
}

// WaitingInstalled fires when a new worker finished installing while an older
// one still controls the page.
type WaitingInstalled struct {
	WorkerID   uint64
	Generation string
}

// ControllerChanged fires once each time the worker controlling a page
// changes.
type ControllerChanged struct {
	WorkerID   uint64
	Generation string
}

func (WaitingInstalled) notification()  {}
func (ControllerChanged) notification() {}

const (
	KindWaitingInstalled  = "waiting-installed"
	KindControllerChanged = "controller-changed"
)

func (WaitingInstalled) Kind() string  { return KindWaitingInstalled }
func (ControllerChanged) Kind() string { return KindControllerChanged }

// Envelope is the wire form of a Notification.
type Envelope struct {
	Kind       string `json:"kind"`
	WorkerID   uint64 `json:"worker_id"`
	Generation string `json:"generation"`
}

// Wrap converts n to its wire form.
func Wrap(n Notification) Envelope {
	switch n := n.(type) {
	case WaitingInstalled:
		return Envelope{Kind: n.Kind(), WorkerID: n.WorkerID, Generation: n.Generation}
	case ControllerChanged:
		return Envelope{Kind: n.Kind(), WorkerID: n.WorkerID, Generation: n.Generation}
	}
	panic(fmt.Sprintf("lifecycle: unhandled notification %T", n))
}

// Unwrap decodes an envelope back into a Notification.
func (e Envelope) Unwrap() (Notification, error) {
	switch e.Kind {
	case KindWaitingInstalled:
		return WaitingInstalled{WorkerID: e.WorkerID, Generation: e.Generation}, nil
	case KindControllerChanged:
		return ControllerChanged{WorkerID: e.WorkerID, Generation: e.Generation}, nil
	}
	return nil, fmt.Errorf("unknown notification kind %q", e.Kind)
}
