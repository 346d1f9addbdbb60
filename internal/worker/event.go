package worker

import (
	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/lifecycle"
	"github.com/leonardcser/flash-offline/internal/strategy"
)

// Event is the closed set of things a worker reacts to: InstallEvent,
// ActivateEvent, MessageEvent and *FetchEvent.
type Event interface {
	event()
}

// InstallEvent asks the worker to precache its shell.
type InstallEvent struct{}

// ActivateEvent asks the worker to purge old generations and claim clients.
type ActivateEvent struct{}

// MessageEvent carries a page message.
type MessageEvent struct {
	Message lifecycle.Message
}

// FetchEvent carries an intercepted request. Dispatch fills in the result.
type FetchEvent struct {
	Request *strategy.Request

	Response *cache.Response
	Kind     strategy.Kind
}

func (InstallEvent) event()  {}
func (ActivateEvent) event() {}
func (MessageEvent) event()  {}
func (*FetchEvent) event()   {}
