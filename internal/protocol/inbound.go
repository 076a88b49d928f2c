package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/xjhc/alignment/internal/apperr"
	"github.com/xjhc/alignment/internal/catalog"
	"github.com/xjhc/alignment/internal/engine"
)

var (
	ErrMalformed     = apperr.New(apperr.CodeInvalidInput, "malformed message")
	ErrUnknownType   = apperr.New(apperr.CodeInvalidInput, "unknown message type")
	ErrEmptyEnvelope = apperr.New(apperr.CodeInvalidInput, "empty message")
)

// Inbound is one client envelope with its payload left undecoded.
type Inbound struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type VotePayload struct {
	VoteType engine.VoteKind `json:"vote_type"`
	TargetID string          `json:"target_id"`
}

type NightActionPayload struct {
	ActionType catalog.NightAction `json:"action_type,omitempty"`
	TargetID   string              `json:"target_id"`
}

type ChatPayload struct {
	Message string `json:"message"`
}

// DecodeInbound parses a single envelope or a newline separated batch.
// Blank lines are skipped.
func DecodeInbound(data []byte) ([]Inbound, error) {
	var out []Inbound
	for line := range bytes.SplitSeq(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var in Inbound
		if err := json.Unmarshal(line, &in); err != nil {
			return out, apperr.Wrap(apperr.CodeInvalidInput, "malformed message", err)
		}
		if in.Type == "" {
			return out, ErrEmptyEnvelope
		}
		out = append(out, in)
	}
	if len(out) == 0 {
		return nil, ErrEmptyEnvelope
	}
	return out, nil
}

// Command translates a game action envelope into an engine command.
// START_GAME is not a game command and is handled by the caller.
func (in Inbound) Command(playerID string) (engine.Command, error) {
	switch in.Type {
	case TypeSubmitVote:
		var p VotePayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return engine.Command{}, err
		}
		return engine.Command{
			Type:     engine.CmdVote,
			PlayerID: playerID,
			VoteKind: p.VoteType,
			Target:   p.TargetID,
		}, nil

	case TypeSubmitNightAction:
		var p NightActionPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return engine.Command{}, err
		}
		return engine.Command{
			Type:     engine.CmdNightAction,
			PlayerID: playerID,
			Action:   p.ActionType,
			Target:   p.TargetID,
		}, nil

	case TypePostChatMessage:
		var p ChatPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return engine.Command{}, err
		}
		return engine.Command{
			Type:     engine.CmdChat,
			PlayerID: playerID,
			Text:     p.Message,
		}, nil

	default:
		return engine.Command{}, ErrUnknownType
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return ErrMalformed
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Wrap(apperr.CodeInvalidInput, "malformed payload", err)
	}
	return nil
}
