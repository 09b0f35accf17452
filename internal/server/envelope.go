package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEnvelope is returned by DecodeInbound when the body is not a
// JSON object or its data does not fit the command.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Inbound is a decoded client request. The concrete type tells which
// command was sent: ChatMessage, PrivateMessage, BanUser or UnknownCommand.
type Inbound interface {
	Command() Command
}

// ChatMessage asks for Text to be broadcast to everyone.
type ChatMessage struct {
	Text string
}

// PrivateMessage asks for Message to be delivered to ToUser only. Message is
// forwarded verbatim.
type PrivateMessage struct {
	ToUser  string
	Message json.RawMessage
}

// BanUser asks for Username to be banned.
type BanUser struct {
	Username string
}

// UnknownCommand is anything outside the three client commands, including
// server-only commands echoed back by a client.
type UnknownCommand struct {
	Name string
}

// Command implements Inbound.
func (ChatMessage) Command() Command { return CommandChatMessage }

// Command implements Inbound.
func (PrivateMessage) Command() Command { return CommandPrivateMessage }

// Command implements Inbound.
func (BanUser) Command() Command { return CommandBanUser }

// Command implements Inbound.
func (u UnknownCommand) Command() Command { return Command(u.Name) }

type rawInbound struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data"`
}

type rawPrivateMessage struct {
	ToUser  *string         `json:"to_user"`
	Message json.RawMessage `json:"message"`
}

// DecodeInbound parses a client frame and validates its data against the
// command. Any mismatch yields ErrMalformedEnvelope.
func DecodeInbound(raw []byte) (Inbound, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedEnvelope)
	}

	var env rawInbound
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch Command(env.Command) {
	case CommandChatMessage:
		text, err := decodeNonEmptyString(env.Data)
		if err != nil {
			return nil, err
		}
		return ChatMessage{Text: text}, nil

	case CommandBanUser:
		name, err := decodeNonEmptyString(env.Data)
		if err != nil {
			return nil, err
		}
		return BanUser{Username: name}, nil

	case CommandPrivateMessage:
		return decodePrivateMessage(env.Data)

	default:
		return UnknownCommand{Name: env.Command}, nil
	}
}

func decodeNonEmptyString(data json.RawMessage) (string, error) {
	if isNull(data) {
		return "", fmt.Errorf("%w: missing data", ErrMalformedEnvelope)
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("%w: data is not a string", ErrMalformedEnvelope)
	}
	if s == "" {
		return "", fmt.Errorf("%w: empty data", ErrMalformedEnvelope)
	}
	return s, nil
}

func decodePrivateMessage(data json.RawMessage) (Inbound, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: private message data is not an object", ErrMalformedEnvelope)
	}

	var pm rawPrivateMessage
	if err := json.Unmarshal(trimmed, &pm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if pm.ToUser == nil {
		return nil, fmt.Errorf("%w: missing to_user", ErrMalformedEnvelope)
	}
	if isNull(pm.Message) {
		return nil, fmt.Errorf("%w: missing message", ErrMalformedEnvelope)
	}
	return PrivateMessage{ToUser: *pm.ToUser, Message: pm.Message}, nil
}

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
