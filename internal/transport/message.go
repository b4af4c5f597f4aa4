// Package transport exposes the supervisor to client processes over a unix
// socket: a websocket binder per client plus HTTP control, status and
// metrics endpoints.
package transport

import (
	"encoding/json"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// Websocket message types.
const (
	MessageInvoke = "invoke"
	MessageStop   = "stop"
	MessageUnbind = "unbind"
)

// Control actions accepted on /control/{action}.
const (
	ActionStart       = "start"
	ActionStop        = "stop"
	ActionTaskRemoved = "task-removed"
)

// Message is one websocket frame in either direction.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Service is the supervisor surface the transport drives.
type Service interface {
	Bind(id domain.ClientID, handle domain.ClientHandle)
	Unbind(id domain.ClientID)
	Invoke(id domain.ClientID, payload json.RawMessage) error
	OnStart() error
	RequestStop() error
	OnTaskRemoved() error
	Status() (domain.StatusReport, error)
}
