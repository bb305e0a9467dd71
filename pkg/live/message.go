package live

import (
	"encoding/json"

	errs "github.com/vango-dev/sharedstate/internal/errors"
)

// MessageType identifies a websocket message.
type MessageType string

const (
	// MessageValue carries the value of a cell when a watch starts.
	MessageValue MessageType = "value"
	// MessageChange carries a committed change.
	MessageChange MessageType = "change"
	// MessageError reports a rejected client message.
	MessageError MessageType = "error"
	// MessageSet is sent by clients to write the watched cell.
	MessageSet MessageType = "set"
)

// Message is the JSON frame exchanged on a watch connection.
type Message struct {
	Type   MessageType `json:"type"`
	Key    string      `json:"key,omitempty"`
	Value  any         `json:"value,omitempty"`
	Prev   any         `json:"prev,omitempty"`
	Code   string      `json:"code,omitempty"`
	Error  string      `json:"error,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

// clientMessage keeps the value raw so it is decoded once, into any.
type clientMessage struct {
	Type  MessageType     `json:"type"`
	Value json.RawMessage `json:"value"`
}

type cellResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type keysResponse struct {
	Keys []string `json:"keys"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// errorDetail is the detail sent to clients: the wrapped cause when there
// is one, otherwise the error's own detail.
func errorDetail(se *errs.StateError) string {
	if se.Wrapped != nil {
		return se.Wrapped.Error()
	}
	return se.Detail
}
