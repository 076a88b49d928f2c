package engine

import (
	"cmp"
	"slices"

	"github.com/xjhc/alignment/internal/catalog"
)

type nightSubmission struct {
	actorID string
	action  catalog.NightAction
	target  string
	seq     uint64
}

func (g *Game) submitNightAction(cmd Command) ([]Event, error) {
	if g.phase != PhaseNight {
		return nil, ErrWrongPhase
	}
	actor, err := g.livingSeat(cmd.PlayerID)
	if err != nil {
		return nil, err
	}
	action := catalog.NightActionOf(actor.Role)
	if action == catalog.ActionNone {
		return nil, ErrNoNightAction
	}
	if cmd.Action != catalog.ActionNone && cmd.Action != action {
		return nil, ErrWrongNightAction
	}
	if _, done := g.night[actor.ID]; done {
		return nil, ErrDuplicateAction
	}
	target, ok := g.index[cmd.Target]
	if !ok || !target.Alive || target.ID == actor.ID {
		return nil, ErrInvalidTarget
	}
	if action == catalog.ActionEliminate && target.Alignment == catalog.AlignmentAligned {
		return nil, ErrInvalidTarget
	}

	g.seq++
	g.night[actor.ID] = nightSubmission{actorID: actor.ID, action: action, target: target.ID, seq: g.seq}

	events := []Event{unicast(actor.ID, NightActionAccepted{Action: action, TargetID: target.ID})}
	if len(g.night) >= g.nightActors() {
		events = append(events, g.closePhase(cmd.At)...)
	}
	return events, nil
}

// nightActors counts living players whose role acts at night.
func (g *Game) nightActors() int {
	n := 0
	for _, s := range g.seats {
		if s.Alive && catalog.HasNightAction(s.Role) {
			n++
		}
	}
	return n
}

// resolveNight applies the submitted actions by priority, then by
// submission order, and clears them.
func (g *Game) resolveNight() []Event {
	subs := make([]nightSubmission, 0, len(g.night))
	for _, s := range g.night {
		subs = append(subs, s)
	}
	slices.SortFunc(subs, func(a, b nightSubmission) int {
		if c := cmp.Compare(a.action.Priority(), b.action.Priority()); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	g.night = make(map[string]nightSubmission)

	var events []Event
	protectedBy := make(map[string][]string)
	notified := make(map[string]bool)
	for _, s := range subs {
		switch s.action {
		case catalog.ActionProtect:
			protectedBy[s.target] = append(protectedBy[s.target], s.actorID)

		case catalog.ActionInvestigate:
			events = append(events, unicast(s.actorID, PrivateNotice{
				Kind:      NoticeInvestigation,
				TargetID:  s.target,
				Alignment: g.index[s.target].Alignment,
				Round:     g.round,
			}))

		case catalog.ActionEliminate:
			target := g.index[s.target]
			if !target.Alive {
				continue
			}
			if protectors, ok := protectedBy[s.target]; ok {
				if !notified[s.target] {
					notified[s.target] = true
					for _, p := range protectors {
						events = append(events, unicast(p, PrivateNotice{
							Kind:     NoticeProtected,
							TargetID: s.target,
							Round:    g.round,
						}))
					}
				}
				continue
			}
			events = append(events, g.eliminate(s.target, CauseNight))
		}
	}
	return events
}
