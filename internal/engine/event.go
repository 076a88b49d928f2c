package engine

import (
	"time"

	"github.com/xjhc/alignment/internal/catalog"
)

type EventType string

const (
	EvtRoleAssigned        EventType = "ROLE_ASSIGNED"
	EvtPhaseChanged        EventType = "PHASE_CHANGED"
	EvtPlayerNominated     EventType = "PLAYER_NOMINATED"
	EvtVerdictResult       EventType = "VERDICT_RESULT"
	EvtPlayerEliminated    EventType = "PLAYER_ELIMINATED"
	EvtNightActionAccepted EventType = "NIGHT_ACTION_ACCEPTED"
	EvtPrivateNotification EventType = "PRIVATE_NOTIFICATION"
	EvtGameEnded           EventType = "GAME_ENDED"
	EvtChatMessage         EventType = "CHAT_MESSAGE"
)

// PublicPayload is implemented by payloads every player may see.
type PublicPayload interface {
	Type() EventType
	public()
}

// PrivatePayload is implemented by payloads meant for exactly one player.
type PrivatePayload interface {
	Type() EventType
	private()
}

// Event is an outbound game event with its visibility scope. The scope is
// fixed by the constructor, so a private payload can never be broadcast.
type Event struct {
	typ     EventType
	to      string
	payload any
}

func broadcast(p PublicPayload) Event {
	return Event{typ: p.Type(), payload: p}
}

func unicast(to string, p PrivatePayload) Event {
	return Event{typ: p.Type(), to: to, payload: p}
}

func (e Event) Type() EventType { return e.typ }
func (e Event) Payload() any    { return e.payload }

// Recipient returns the only player allowed to see e. ok is false for
// public events.
func (e Event) Recipient() (playerID string, ok bool) {
	return e.to, e.to != ""
}

// VisibleTo reports whether playerID may receive e.
func (e Event) VisibleTo(playerID string) bool {
	return e.to == "" || e.to == playerID
}

// RoleAssigned tells a player its secret role.
type RoleAssigned struct {
	PlayerID  string            `json:"player_id"`
	Role      catalog.Role      `json:"role"`
	Alignment catalog.Alignment `json:"alignment"`
	Faction   catalog.Faction   `json:"faction"`
	// Allies lists the other minority players; empty for the majority.
	Allies []string `json:"allies,omitempty"`
}

func (RoleAssigned) Type() EventType { return EvtRoleAssigned }
func (RoleAssigned) private()        {}

type PhaseChanged struct {
	Phase         Phase     `json:"phase_type"`
	PreviousPhase Phase     `json:"previous_phase"`
	Round         int       `json:"day_number"`
	EndsAt        time.Time `json:"ends_at,omitzero"`
}

func (PhaseChanged) Type() EventType { return EvtPhaseChanged }
func (PhaseChanged) public()         {}

type PlayerNominated struct {
	PlayerID string `json:"nominated_player"`
	Votes    int    `json:"nomination_votes"`
}

func (PlayerNominated) Type() EventType { return EvtPlayerNominated }
func (PlayerNominated) public()         {}

type VerdictResult struct {
	Accused    string `json:"accused"`
	Guilty     int    `json:"guilty"`
	Innocent   int    `json:"innocent"`
	Eliminated bool   `json:"eliminated"`
}

func (VerdictResult) Type() EventType { return EvtVerdictResult }
func (VerdictResult) public()         {}

type EliminationCause string

const (
	CauseVote  EliminationCause = "VOTE"
	CauseNight EliminationCause = "NIGHT"
)

// PlayerEliminated reveals the role of the eliminated player to everyone.
type PlayerEliminated struct {
	PlayerID  string            `json:"player_id"`
	Name      string            `json:"name"`
	Role      catalog.Role      `json:"role"`
	Alignment catalog.Alignment `json:"alignment"`
	Cause     EliminationCause  `json:"cause"`
	Round     int               `json:"day_number"`
}

func (PlayerEliminated) Type() EventType { return EvtPlayerEliminated }
func (PlayerEliminated) public()         {}

type NightActionAccepted struct {
	Action   catalog.NightAction `json:"action_type"`
	TargetID string              `json:"target_id"`
}

func (NightActionAccepted) Type() EventType { return EvtNightActionAccepted }
func (NightActionAccepted) private()        {}

type NoticeKind string

const (
	NoticeInvestigation NoticeKind = "INVESTIGATION_RESULT"
	NoticeProtected     NoticeKind = "PROTECTION_SUCCEEDED"
)

// PrivateNotice carries night results that only the acting player learns.
type PrivateNotice struct {
	Kind      NoticeKind        `json:"kind"`
	TargetID  string            `json:"target_id"`
	Alignment catalog.Alignment `json:"alignment,omitempty"`
	Round     int               `json:"day_number"`
}

func (PrivateNotice) Type() EventType { return EvtPrivateNotification }
func (PrivateNotice) private()        {}

type Condition string

const (
	ConditionContainment Condition = "CONTAINMENT"
	ConditionSingularity Condition = "SINGULARITY"
	ConditionTimeLimit   Condition = "TIME_LIMIT"
)

type FinalRole struct {
	PlayerID  string            `json:"player_id"`
	Name      string            `json:"name"`
	Role      catalog.RoleType  `json:"role"`
	Alignment catalog.Alignment `json:"alignment"`
	Alive     bool              `json:"alive"`
}

// GameEnded announces the winner and reveals every role.
type GameEnded struct {
	WinningFaction catalog.Faction `json:"winning_faction"`
	Condition      Condition       `json:"condition"`
	Description    string          `json:"description"`
	Round          int             `json:"day_number"`
	Roles          []FinalRole     `json:"roles"`
}

func (GameEnded) Type() EventType { return EvtGameEnded }
func (GameEnded) public()         {}

// ChatMessage is one line of the public day chat.
type ChatMessage struct {
	Seq        uint64    `json:"seq"`
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	Message    string    `json:"message"`
	Phase      Phase     `json:"phase"`
	Round      int       `json:"day_number"`
	At         time.Time `json:"timestamp"`
}

func (ChatMessage) Type() EventType { return EvtChatMessage }
func (ChatMessage) public()         {}
