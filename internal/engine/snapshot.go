package engine

import (
	"time"

	"github.com/xjhc/alignment/internal/catalog"
)

type PlayerView struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Avatar    string            `json:"avatar,omitempty"`
	Alive     bool              `json:"alive"`
	Connected bool              `json:"connected"`
	Role      catalog.RoleType  `json:"role,omitempty"`
	Alignment catalog.Alignment `json:"alignment,omitempty"`
}

type VerdictTally struct {
	Guilty   int `json:"guilty"`
	Innocent int `json:"innocent"`
}

// Snapshot is the public view of a game. Roles appear only for eliminated
// players, or for everyone once the game has ended.
type Snapshot struct {
	Phase          Phase           `json:"phase"`
	Round          int             `json:"day_number"`
	PhaseEndsAt    time.Time       `json:"phase_ends_at,omitzero"`
	Players        []PlayerView    `json:"players"`
	Accused        string          `json:"accused,omitempty"`
	Nominations    map[string]int  `json:"nominations,omitempty"`
	Verdict        *VerdictTally   `json:"verdict,omitempty"`
	Voted          []string        `json:"voted,omitempty"`
	WinningFaction catalog.Faction `json:"winning_faction,omitempty"`
}

// Snapshot builds the public view. connected may be nil.
func (g *Game) Snapshot(connected func(playerID string) bool) Snapshot {
	snap := Snapshot{
		Phase:       g.phase,
		Round:       g.round,
		PhaseEndsAt: g.deadline,
		Accused:     g.accused,
		Players:     make([]PlayerView, len(g.seats)),
	}
	ended := g.phase == PhaseGameEnded
	for i, s := range g.seats {
		pv := PlayerView{ID: s.ID, Name: s.Name, Avatar: s.Avatar, Alive: s.Alive}
		if connected != nil {
			pv.Connected = connected(s.ID)
		}
		if !s.Alive || ended {
			pv.Role = s.Role
			pv.Alignment = s.Alignment
		}
		snap.Players[i] = pv
	}

	if g.ledger != nil {
		snap.Voted = g.ledger.Voters()
		switch g.ledger.Kind() {
		case VoteNomination:
			snap.Nominations = g.ledger.Tally()
		case VoteVerdict:
			t := g.ledger.Tally()
			snap.Verdict = &VerdictTally{Guilty: t[Guilty], Innocent: t[Innocent]}
		}
	}
	if g.outcome != nil {
		snap.WinningFaction = g.outcome.Winner
	}
	return snap
}
