package engine

import (
	"fmt"

	"github.com/xjhc/alignment/internal/catalog"
)

type aliveCounts struct {
	majority int
	minority int
}

func (g *Game) aliveCounts() aliveCounts {
	var c aliveCounts
	for _, s := range g.seats {
		if !s.Alive {
			continue
		}
		if s.Alignment == catalog.AlignmentAligned {
			c.minority++
		} else {
			c.majority++
		}
	}
	return c
}

// evaluate applies the win rules to the living headcount. ok is false while
// the game should continue.
func evaluate(c aliveCounts, parity ParityRule) (Outcome, bool) {
	if c.minority == 0 {
		return Outcome{
			Winner:      catalog.MajorityFaction,
			Condition:   ConditionContainment,
			Description: "Every rogue AI has been deactivated",
		}, true
	}
	reached := c.minority >= c.majority
	if parity == ParityGreater {
		reached = c.minority > c.majority
	}
	if reached {
		return Outcome{
			Winner:      catalog.MinorityFaction,
			Condition:   ConditionSingularity,
			Description: fmt.Sprintf("The AI controls %d of %d remaining seats", c.minority, c.minority+c.majority),
		}, true
	}
	return Outcome{}, false
}

func timeLimitOutcome(c aliveCounts) Outcome {
	out := Outcome{Condition: ConditionTimeLimit}
	if c.majority > c.minority {
		out.Winner = catalog.MajorityFaction
		out.Description = "The humans held out until the deadline"
	} else {
		out.Winner = catalog.MinorityFaction
		out.Description = "The deadline passed with the AI undiscovered"
	}
	return out
}
