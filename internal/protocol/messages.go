// Package protocol defines the JSON envelopes exchanged over the real-time
// channel.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/xjhc/alignment/internal/apperr"
	"github.com/xjhc/alignment/internal/engine"
)

type MessageType string

// Server -> client
const (
	TypeClientIdentified    MessageType = "CLIENT_IDENTIFIED"
	TypeLobbyStateUpdate    MessageType = "LOBBY_STATE_UPDATE"
	TypeRoleAssigned        MessageType = "ROLE_ASSIGNED"
	TypeGameStateUpdate     MessageType = "GAME_STATE_UPDATE"
	TypePhaseChanged        MessageType = "PHASE_CHANGED"
	TypePlayerNominated     MessageType = "PLAYER_NOMINATED"
	TypeVerdictResult       MessageType = "VERDICT_RESULT"
	TypePlayerEliminated    MessageType = "PLAYER_ELIMINATED"
	TypePrivateNotification MessageType = "PRIVATE_NOTIFICATION"
	TypeNightActionAccepted MessageType = "NIGHT_ACTION_ACCEPTED"
	TypeGameEnded           MessageType = "GAME_ENDED"
	TypeChatMessage         MessageType = "CHAT_MESSAGE"
	TypeError               MessageType = "ERROR"
)

// Client -> server
const (
	TypeStartGame         MessageType = "START_GAME"
	TypeSubmitVote        MessageType = "SUBMIT_VOTE"
	TypeSubmitNightAction MessageType = "SUBMIT_NIGHT_ACTION"
	TypePostChatMessage   MessageType = "POST_CHAT_MESSAGE"
)

// Message is the outbound envelope.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// Frame is a group of messages delivered to one connection as a single
// websocket write, newline separated.
type Frame []Message

func (f Frame) Encode() ([]byte, error) {
	var buf bytes.Buffer
	for i, m := range f {
		if i > 0 {
			buf.WriteByte('\n')
		}
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", m.Type, err)
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// Types lists the message types of f in order.
func (f Frame) Types() []MessageType {
	out := make([]MessageType, len(f))
	for i, m := range f {
		out[i] = m.Type
	}
	return out
}

type ClientIdentified struct {
	PlayerID string `json:"your_player_id"`
	LobbyID  string `json:"lobby_id"`
	IsHost   bool   `json:"is_host"`
}

type LobbyPlayer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
	Connected bool   `json:"connected"`
}

type LobbyState struct {
	LobbyID    string        `json:"lobby_id"`
	Name       string        `json:"name"`
	HostID     string        `json:"host_id"`
	Status     string        `json:"status"`
	MinPlayers int           `json:"min_players"`
	MaxPlayers int           `json:"max_players"`
	Players    []LobbyPlayer `json:"players"`
}

type ErrorPayload struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
	Action  MessageType `json:"action,omitempty"`
}

// ErrorMessage builds the ERROR envelope reported to the sender of a
// rejected action.
func ErrorMessage(err error, action MessageType) Message {
	return Message{Type: TypeError, Payload: ErrorPayload{
		Code:    apperr.CodeOf(err),
		Message: apperr.MessageOf(err),
		Action:  action,
	}}
}

// FromEvent wraps an engine event in its envelope.
func FromEvent(e engine.Event) Message {
	return Message{Type: MessageType(e.Type()), Payload: e.Payload()}
}

// Snapshot wraps a game snapshot.
func Snapshot(s engine.Snapshot) Message {
	return Message{Type: TypeGameStateUpdate, Payload: s}
}
