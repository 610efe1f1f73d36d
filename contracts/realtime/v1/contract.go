// Package v1 defines the courier realtime wire contract.
//
// It is shared between the hub and its clients and has no dependencies
// beyond the standard library.
package v1

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Subprotocol is offered by clients that want to pin the contract version.
// The hub accepts connections that do not negotiate it.
const Subprotocol = "courier.realtime.v1"

// ErrMalformed reports an inbound frame that is not a JSON object carrying a
// "message" field.
var ErrMalformed = errors.New("malformed frame")

// Inbound is a client frame. Message may hold any JSON value.
type Inbound struct {
	Message json.RawMessage `json:"message"`
}

// Outbound is the frame fanned out to every other session.
type Outbound struct {
	UserID   string          `json:"userId"`
	Username string          `json:"username"`
	Message  json.RawMessage `json:"message"`
}

// ErrorFrame is sent to a single session; it never ends the session by itself.
type ErrorFrame struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes carried by ErrorFrame.
const (
	CodeMalformedMessage = "malformed_message"
	CodeRateLimited      = "rate_limited"
)

// MalformedMessage is the reply to a frame that fails DecodeInbound.
var MalformedMessage = ErrorFrame{Error: "Invalid message format", Code: CodeMalformedMessage}

// DecodeInbound parses a client frame. A "message" field holding JSON null is
// accepted and relayed as null.
func DecodeInbound(data []byte) (Inbound, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Inbound{}, ErrMalformed
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Inbound{}, errors.Join(ErrMalformed, err)
	}
	msg, ok := fields["message"]
	if !ok || len(msg) == 0 {
		return Inbound{}, ErrMalformed
	}
	return Inbound{Message: msg}, nil
}
