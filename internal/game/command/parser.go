package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrInvalidJSON is returned when a frame is not a JSON object.
	ErrInvalidJSON = errors.New("invalid JSON format")
	// ErrMissingCommand is returned when a frame has no command name.
	ErrMissingCommand = errors.New("invalid message format")
)

// Envelope is the inbound frame shape: {"command": "...", "payload": {...}}.
// Field names are matched case-insensitively.
type Envelope struct {
	// Command is the trimmed command name as sent.
	Command string `json:"command"`
	// Payload is the raw command payload; nil when absent.
	Payload json.RawMessage `json:"payload"`
}

// Parse decodes one inbound frame.
//
// Postcondition: Returns ErrInvalidJSON when data is not a JSON object and
// ErrMissingCommand when the command field is absent, empty, or not a string.
func Parse(data []byte) (Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return Envelope{}, ErrInvalidJSON
	}
	var env Envelope
	for k, v := range raw {
		switch strings.ToLower(k) {
		case "command":
			var name string
			if err := json.Unmarshal(v, &name); err != nil {
				return Envelope{}, ErrMissingCommand
			}
			env.Command = strings.TrimSpace(name)
		case "payload":
			if !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
				env.Payload = v
			}
		}
	}
	if env.Command == "" {
		return Envelope{}, ErrMissingCommand
	}
	return env, nil
}
