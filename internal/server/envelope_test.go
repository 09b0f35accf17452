package server

import (
	"errors"
	"testing"
)

// TestDecodeInbound tests decoding of client frames into typed commands.
// It verifies the accepted shapes for each command and that every mismatch
// is reported as a malformed envelope.
func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Inbound
		wantErr bool
	}{
		{name: "chat message", raw: `{"command":"chat_message","data":"hello"}`, want: ChatMessage{Text: "hello"}},
		{name: "chat message with spaces", raw: `  {"command":"chat_message","data":"hi there"} `, want: ChatMessage{Text: "hi there"}},
		{name: "empty chat message", raw: `{"command":"chat_message","data":""}`, wantErr: true},
		{name: "null chat message", raw: `{"command":"chat_message","data":null}`, wantErr: true},
		{name: "numeric chat message", raw: `{"command":"chat_message","data":12}`, wantErr: true},
		{name: "ban user", raw: `{"command":"ban_user","data":"bob"}`, want: BanUser{Username: "bob"}},
		{name: "empty ban target", raw: `{"command":"ban_user","data":""}`, wantErr: true},
		{name: "object ban target", raw: `{"command":"ban_user","data":{"user":"bob"}}`, wantErr: true},
		{name: "private message without to_user", raw: `{"command":"private_message","data":{"message":"hi"}}`, wantErr: true},
		{name: "private message with null message", raw: `{"command":"private_message","data":{"to_user":"bob","message":null}}`, wantErr: true},
		{name: "private message as string", raw: `{"command":"private_message","data":"bob"}`, wantErr: true},
		{name: "private message with numeric target", raw: `{"command":"private_message","data":{"to_user":7,"message":"hi"}}`, wantErr: true},
		{name: "unknown command", raw: `{"command":"dance"}`, want: UnknownCommand{Name: "dance"}},
		{name: "server only command", raw: `{"command":"successful_connection","data":[]}`, want: UnknownCommand{Name: "successful_connection"}},
		{name: "missing command", raw: `{"data":"x"}`, want: UnknownCommand{Name: ""}},
		{name: "not json", raw: `hello`, wantErr: true},
		{name: "json array", raw: `["chat_message"]`, wantErr: true},
		{name: "empty body", raw: ``, wantErr: true},
		{name: "numeric command", raw: `{"command":1,"data":"x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedEnvelope) {
					t.Errorf("Expected ErrMalformedEnvelope, got %v (%#v)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

// TestDecodePrivateMessage tests that the private message body is kept
// verbatim, whatever its JSON type.
func TestDecodePrivateMessage(t *testing.T) {
	got, err := DecodeInbound([]byte(`{"command":"private_message","data":{"to_user":"bob","message":{"text":"hi"}}}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	pm, ok := got.(PrivateMessage)
	if !ok {
		t.Fatalf("Expected PrivateMessage, got %T", got)
	}
	if pm.ToUser != "bob" {
		t.Errorf("Expected target bob, got %q", pm.ToUser)
	}
	if string(pm.Message) != `{"text":"hi"}` {
		t.Errorf("Expected raw message to be preserved, got %s", pm.Message)
	}
}

// TestEnvelopeEncode tests the outbound wire format, including a null data
// field and the chat payload keys.
func TestEnvelopeEncode(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want string
	}{
		{
			name: "failed connection",
			env:  Envelope{Command: CommandFailedConnection, Information: "The user is banned"},
			want: `{"command":"failed_connection","data":null,"information":"The user is banned"}`,
		},
		{
			name: "chat message",
			env:  Envelope{Command: CommandChatMessage, Data: MessagePayload{FromUser: "bob", Message: "hi"}, Information: "A chat message."},
			want: `{"command":"chat_message","data":{"from_user":"bob","message":"hi"},"information":"A chat message."}`,
		},
		{
			name: "ban result",
			env:  Envelope{Command: CommandBanUser, Data: false, Information: "Only an admin can ban a user."},
			want: `{"command":"ban_user","data":false,"information":"Only an admin can ban a user."}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.env.Encode()
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}
