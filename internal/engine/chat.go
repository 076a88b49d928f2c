package engine

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	MaxChatLength = 280
	// chatHistory bounds the log replayed to reconnecting players.
	chatHistory = 50
)

// postChat broadcasts a line from a living player. The war room is closed at
// night.
func (g *Game) postChat(cmd Command) ([]Event, error) {
	s, err := g.livingSeat(cmd.PlayerID)
	if err != nil {
		return nil, err
	}
	if g.phase == PhaseNight {
		return nil, ErrWrongPhase
	}
	text := strings.TrimSpace(norm.NFC.String(cmd.Text))
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxChatLength {
		return nil, ErrMessageTooLong
	}

	g.chatSeq++
	msg := ChatMessage{
		Seq:        g.chatSeq,
		PlayerID:   s.ID,
		PlayerName: s.Name,
		Message:    text,
		Phase:      g.phase,
		Round:      g.round,
		At:         cmd.At,
	}
	g.chat = append(g.chat, msg)
	if len(g.chat) > chatHistory {
		g.chat = g.chat[len(g.chat)-chatHistory:]
	}
	return []Event{broadcast(msg)}, nil
}

// ChatLog returns the most recent chat lines, oldest first.
func (g *Game) ChatLog() []Event {
	out := make([]Event, len(g.chat))
	for i, m := range g.chat {
		out[i] = broadcast(m)
	}
	return out
}
