package engine

import (
	"cmp"
	"slices"
	"time"
)

type VoteKind string

const (
	VoteNomination VoteKind = "NOMINATION"
	VoteVerdict    VoteKind = "VERDICT"
)

// Verdict ballots use these as the vote target.
const (
	Guilty   = "GUILTY"
	Innocent = "INNOCENT"
)

type Vote struct {
	VoterID string    `json:"voter_id"`
	Kind    VoteKind  `json:"vote_type"`
	Target  string    `json:"target_id"`
	At      time.Time `json:"timestamp"`
	seq     uint64
}

// Ledger holds the current vote of every voter for one phase of one round.
// A new vote replaces the voter's previous one.
type Ledger struct {
	kind  VoteKind
	round int
	votes map[string]Vote
}

func newLedger(kind VoteKind, round int) *Ledger {
	return &Ledger{kind: kind, round: round, votes: make(map[string]Vote)}
}

// Cast records v. An identical repeat of the voter's current vote is
// rejected as a duplicate and leaves the ledger untouched.
func (l *Ledger) Cast(v Vote) (superseded bool, err error) {
	prev, ok := l.votes[v.VoterID]
	if ok && prev.Target == v.Target {
		return false, ErrDuplicateVote
	}
	l.votes[v.VoterID] = v
	return ok, nil
}

func (l *Ledger) Kind() VoteKind { return l.kind }
func (l *Ledger) Round() int     { return l.round }
func (l *Ledger) Len() int       { return len(l.votes) }

// Get returns the current vote of voterID.
func (l *Ledger) Get(voterID string) (Vote, bool) {
	v, ok := l.votes[voterID]
	return v, ok
}

// ordered returns the current votes in the order they were cast.
func (l *Ledger) ordered() []Vote {
	out := make([]Vote, 0, len(l.votes))
	for _, v := range l.votes {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b Vote) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

// Voters lists voter ids in casting order.
func (l *Ledger) Voters() []string {
	votes := l.ordered()
	out := make([]string, len(votes))
	for i, v := range votes {
		out[i] = v.VoterID
	}
	return out
}

// Tally counts current votes per target.
func (l *Ledger) Tally() map[string]int {
	counts := make(map[string]int, len(l.votes))
	for _, v := range l.votes {
		counts[v.Target]++
	}
	return counts
}

// Leader returns the target with the most votes. Among tied targets the one
// whose final count was reached by the earliest vote wins.
func (l *Ledger) Leader() (target string, count int, ok bool) {
	counts := make(map[string]int)
	reachedAt := make(map[string]uint64)
	for _, v := range l.ordered() {
		counts[v.Target]++
		reachedAt[v.Target] = v.seq
	}
	for t, c := range counts {
		switch {
		case c > count:
			target, count = t, c
		case c == count && reachedAt[t] < reachedAt[target]:
			target = t
		}
	}
	return target, count, count > 0
}
