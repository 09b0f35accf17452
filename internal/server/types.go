// Package server defines the envelope types exchanged with clients and
// utility helpers that are reused across connection and manager logic.
package server

import (
	"encoding/json"
	"strings"
)

// Command names the kind of an envelope.
type Command string

// The closed set of commands understood on the wire.
const (
	CommandChatMessage          Command = "chat_message"
	CommandBanUser              Command = "ban_user"
	CommandPrivateMessage       Command = "private_message"
	CommandSuccessfulConnection Command = "successful_connection"
	CommandFailedConnection     Command = "failed_connection"
	CommandNewConnection        Command = "new_connection"
	CommandUserDisconnected     Command = "user_disconnected"
	CommandSystemInformation    Command = "system_information"
)

// Envelope is the outbound message unit. Data is null, a string, a boolean,
// a list of usernames or a MessagePayload depending on Command.
type Envelope struct {
	Command     Command `json:"command"`
	Data        any     `json:"data"`
	Information string  `json:"information"`
}

// MessagePayload is the data of outbound chat and private messages.
type MessagePayload struct {
	FromUser string `json:"from_user"`
	Message  any    `json:"message"`
}

// Encode serializes the envelope as JSON.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
