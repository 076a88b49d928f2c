package engine

import "time"

type Phase string

const (
	PhaseLobby         Phase = "LOBBY"
	PhaseNight         Phase = "NIGHT"
	PhaseDayDiscussion Phase = "DAY_DISCUSSION"
	PhaseNomination    Phase = "NOMINATION"
	PhaseVerdict       Phase = "VERDICT"
	PhaseGameEnded     Phase = "GAME_ENDED"
)

// transitions lists every legal edge of the phase machine.
var transitions = map[Phase][]Phase{
	PhaseLobby:         {PhaseNight},
	PhaseNight:         {PhaseDayDiscussion, PhaseGameEnded},
	PhaseDayDiscussion: {PhaseNomination},
	PhaseNomination:    {PhaseVerdict, PhaseNight, PhaseGameEnded},
	PhaseVerdict:       {PhaseNight, PhaseGameEnded},
	PhaseGameEnded:     nil,
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return len(transitions[p]) == 0
}

// Timed reports whether p closes on a server-driven deadline.
func (p Phase) Timed() bool {
	switch p {
	case PhaseNight, PhaseDayDiscussion, PhaseNomination, PhaseVerdict:
		return true
	default:
		return false
	}
}

func (r Rules) duration(p Phase) time.Duration {
	switch p {
	case PhaseNight:
		return r.NightDuration
	case PhaseDayDiscussion:
		return r.DiscussionDuration
	case PhaseNomination:
		return r.NominationDuration
	case PhaseVerdict:
		return r.VerdictDuration
	default:
		return 0
	}
}
