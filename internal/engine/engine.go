// Package engine is the game state machine: role dealing, phase
// progression, vote tallying, night resolution and win evaluation.
//
// A Game is not safe for concurrent use; its owner (the lobby actor)
// serializes every call. Apply validates a command completely before it
// mutates anything, so a rejected command leaves the game unchanged.
package engine

import (
	"math/rand/v2"
	"time"

	"github.com/xjhc/alignment/internal/apperr"
	"github.com/xjhc/alignment/internal/catalog"
)

var (
	ErrWrongPhase         = apperr.New(apperr.CodeInvalidAction, "action not allowed in current phase")
	ErrUnknownPlayer      = apperr.New(apperr.CodeInvalidAction, "unknown player")
	ErrNotAlive           = apperr.New(apperr.CodeInvalidAction, "eliminated players cannot act")
	ErrInvalidTarget      = apperr.New(apperr.CodeInvalidAction, "invalid target")
	ErrNotEligible        = apperr.New(apperr.CodeInvalidAction, "player is not eligible to vote")
	ErrDuplicateVote      = apperr.New(apperr.CodeInvalidAction, "vote already cast")
	ErrDuplicateAction    = apperr.New(apperr.CodeInvalidAction, "night action already submitted")
	ErrNoNightAction      = apperr.New(apperr.CodeInvalidAction, "role has no night action")
	ErrWrongNightAction   = apperr.New(apperr.CodeInvalidAction, "night action does not match role")
	ErrUnknownVoteKind    = apperr.New(apperr.CodeInvalidAction, "unknown vote type")
	ErrGameOver           = apperr.New(apperr.CodeInvalidAction, "game already ended")
	ErrStaleAdvance       = apperr.New(apperr.CodeInvalidAction, "phase already advanced")
	ErrIllegalTransition  = apperr.New(apperr.CodeInvalidAction, "illegal phase transition")
	ErrUnsupportedCommand = apperr.New(apperr.CodeInvalidAction, "unsupported command")
	ErrTooFewPlayers      = apperr.New(apperr.CodeConflict, "not enough players to start")
	ErrDuplicatePlayer    = apperr.New(apperr.CodeInvalidInput, "duplicate player id")
	ErrEmptyMessage       = apperr.New(apperr.CodeInvalidInput, "chat message is empty")
	ErrMessageTooLong     = apperr.New(apperr.CodeInvalidInput, "chat message is too long")
)

type ParityRule string

const (
	// ParityAtLeastEqual: the minority wins once it matches the majority.
	ParityAtLeastEqual ParityRule = "at_least_equal"
	// ParityGreater: the minority must strictly outnumber the majority.
	ParityGreater ParityRule = "greater"
)

type Rules struct {
	NightDuration      time.Duration
	DiscussionDuration time.Duration
	NominationDuration time.Duration
	VerdictDuration    time.Duration
	Distribution       catalog.Distribution
	Parity             ParityRule
	// MaxRounds ends the game by headcount once exceeded; 0 disables.
	MaxRounds int
}

func DefaultRules() Rules {
	return Rules{
		NightDuration:      30 * time.Second,
		DiscussionDuration: 60 * time.Second,
		NominationDuration: 30 * time.Second,
		VerdictDuration:    20 * time.Second,
		Distribution:       catalog.DefaultDistribution(),
		Parity:             ParityAtLeastEqual,
		MaxRounds:          7,
	}
}

// Participant is a roster entry handed over by the lobby at start.
type Participant struct {
	ID     string
	Name   string
	Avatar string
}

type Seat struct {
	ID              string
	Name            string
	Avatar          string
	Role            catalog.RoleType
	Alignment       catalog.Alignment
	Alive           bool
	EliminatedRound int
	Cause           EliminationCause
}

type CommandType string

const (
	CmdVote        CommandType = "SUBMIT_VOTE"
	CmdNightAction CommandType = "SUBMIT_NIGHT_ACTION"
	CmdAdvance     CommandType = "ADVANCE_PHASE"
	CmdChat        CommandType = "POST_CHAT_MESSAGE"
)

type Command struct {
	Type     CommandType
	PlayerID string
	VoteKind VoteKind
	Target   string
	// Action is optional on night commands; when set it must match the role.
	Action catalog.NightAction
	// From guards CmdAdvance against firing for a phase that already closed.
	From Phase
	// Text is the body of a CmdChat.
	Text string
	At   time.Time
}

type Outcome struct {
	Winner      catalog.Faction
	Condition   Condition
	Description string
	Round       int
}

type Game struct {
	rules    Rules
	phase    Phase
	round    int
	deadline time.Time
	seats    []*Seat
	index    map[string]*Seat
	ledger   *Ledger
	night    map[string]nightSubmission
	accused  string
	outcome  *Outcome
	seq      uint64
	chat     []ChatMessage
	chatSeq  uint64
}

// NewGame deals roles to players and enters the first night. The returned
// events hold one private RoleAssigned per player followed by the public
// phase change.
func NewGame(players []Participant, rules Rules, rng *rand.Rand, at time.Time) (*Game, []Event, error) {
	if len(players) < 2 {
		return nil, nil, ErrTooFewPlayers
	}
	g := &Game{
		rules: rules,
		phase: PhaseLobby,
		index: make(map[string]*Seat, len(players)),
		night: make(map[string]nightSubmission),
	}

	deck := rules.Distribution.Deal(len(players))
	rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })

	for i, p := range players {
		if _, dup := g.index[p.ID]; dup {
			return nil, nil, ErrDuplicatePlayer
		}
		seat := &Seat{
			ID:        p.ID,
			Name:      p.Name,
			Avatar:    p.Avatar,
			Role:      deck[i],
			Alignment: catalog.AlignmentOf(deck[i]),
			Alive:     true,
		}
		g.seats = append(g.seats, seat)
		g.index[p.ID] = seat
	}

	events := make([]Event, 0, len(players)+1)
	for _, s := range g.seats {
		events = append(events, unicast(s.ID, g.roleAssigned(s)))
	}
	events = append(events, g.startNight(at)...)
	return g, events, nil
}

func (g *Game) roleAssigned(s *Seat) RoleAssigned {
	role, _ := catalog.Lookup(s.Role)
	ra := RoleAssigned{
		PlayerID:  s.ID,
		Role:      role,
		Alignment: s.Alignment,
		Faction:   catalog.FactionOf(s.Alignment),
	}
	if s.Alignment == catalog.AlignmentAligned {
		for _, other := range g.seats {
			if other.ID != s.ID && other.Alignment == catalog.AlignmentAligned {
				ra.Allies = append(ra.Allies, other.ID)
			}
		}
	}
	return ra
}

// RoleAssignment rebuilds the private role payload for playerID, used when
// a player reconnects.
func (g *Game) RoleAssignment(playerID string) (Event, bool) {
	s, ok := g.index[playerID]
	if !ok {
		return Event{}, false
	}
	return unicast(playerID, g.roleAssigned(s)), true
}

func (g *Game) Phase() Phase        { return g.phase }
func (g *Game) Round() int          { return g.round }
func (g *Game) Deadline() time.Time { return g.deadline }
func (g *Game) Accused() string     { return g.accused }
func (g *Game) Ledger() *Ledger     { return g.ledger }

func (g *Game) Outcome() (Outcome, bool) {
	if g.outcome == nil {
		return Outcome{}, false
	}
	return *g.outcome, true
}

// Seat returns a copy of the seat of playerID.
func (g *Game) Seat(playerID string) (Seat, bool) {
	s, ok := g.index[playerID]
	if !ok {
		return Seat{}, false
	}
	return *s, true
}

// Seats returns copies of all seats in roster order.
func (g *Game) Seats() []Seat {
	out := make([]Seat, len(g.seats))
	for i, s := range g.seats {
		out[i] = *s
	}
	return out
}

// Apply validates cmd against the current phase and applies it. On error
// the game is unchanged.
func (g *Game) Apply(cmd Command) ([]Event, error) {
	if g.phase.Terminal() {
		return nil, ErrGameOver
	}

	switch cmd.Type {
	case CmdVote:
		return g.castVote(cmd)
	case CmdNightAction:
		return g.submitNightAction(cmd)
	case CmdChat:
		return g.postChat(cmd)
	case CmdAdvance:
		if cmd.From != g.phase {
			return nil, ErrStaleAdvance
		}
		return g.closePhase(cmd.At), nil
	default:
		return nil, ErrUnsupportedCommand
	}
}

func (g *Game) livingSeat(playerID string) (*Seat, error) {
	s, ok := g.index[playerID]
	if !ok {
		return nil, ErrUnknownPlayer
	}
	if !s.Alive {
		return nil, ErrNotAlive
	}
	return s, nil
}

func (g *Game) castVote(cmd Command) ([]Event, error) {
	var want Phase
	switch cmd.VoteKind {
	case VoteNomination:
		want = PhaseNomination
	case VoteVerdict:
		want = PhaseVerdict
	default:
		return nil, ErrUnknownVoteKind
	}
	if g.phase != want || g.ledger == nil {
		return nil, ErrWrongPhase
	}
	voter, err := g.livingSeat(cmd.PlayerID)
	if err != nil {
		return nil, err
	}

	switch cmd.VoteKind {
	case VoteNomination:
		target, ok := g.index[cmd.Target]
		if !ok || !target.Alive || target.ID == voter.ID {
			return nil, ErrInvalidTarget
		}
	case VoteVerdict:
		if voter.ID == g.accused {
			return nil, ErrNotEligible
		}
		if cmd.Target != Guilty && cmd.Target != Innocent {
			return nil, ErrInvalidTarget
		}
	}

	v := Vote{VoterID: voter.ID, Kind: cmd.VoteKind, Target: cmd.Target, At: cmd.At, seq: g.seq + 1}
	if _, err := g.ledger.Cast(v); err != nil {
		return nil, err
	}
	g.seq++

	if g.ledger.Len() >= g.eligibleVoters() {
		return g.closePhase(cmd.At), nil
	}
	return nil, nil
}

func (g *Game) eligibleVoters() int {
	n := 0
	for _, s := range g.seats {
		if !s.Alive {
			continue
		}
		if g.phase == PhaseVerdict && s.ID == g.accused {
			continue
		}
		n++
	}
	return n
}

// enter moves the machine along one edge of the transition table.
func (g *Game) enter(to Phase, at time.Time) ([]Event, error) {
	if !CanTransition(g.phase, to) {
		return nil, ErrIllegalTransition
	}
	prev := g.phase
	g.phase = to
	g.deadline = time.Time{}
	if d := g.rules.duration(to); d > 0 && to.Timed() {
		g.deadline = at.Add(d)
	}

	g.ledger = nil
	switch to {
	case PhaseNight:
		g.night = make(map[string]nightSubmission)
		g.accused = ""
	case PhaseNomination:
		g.ledger = newLedger(VoteNomination, g.round)
		g.accused = ""
	case PhaseVerdict:
		g.ledger = newLedger(VoteVerdict, g.round)
	}

	return []Event{broadcast(PhaseChanged{
		Phase:         to,
		PreviousPhase: prev,
		Round:         g.round,
		EndsAt:        g.deadline,
	})}, nil
}

// must is used for edges that are legal by construction of closePhase.
func must(events []Event, err error) []Event {
	if err != nil {
		panic(err)
	}
	return events
}

// closePhase ends the current phase and opens the next one.
func (g *Game) closePhase(at time.Time) []Event {
	switch g.phase {
	case PhaseNight:
		events := g.resolveNight()
		if end := g.checkWin(at); end != nil {
			return append(events, end...)
		}
		return append(events, must(g.enter(PhaseDayDiscussion, at))...)

	case PhaseDayDiscussion:
		return must(g.enter(PhaseNomination, at))

	case PhaseNomination:
		target, count, ok := g.ledger.Leader()
		if !ok {
			return g.startNight(at)
		}
		g.accused = target
		events := []Event{broadcast(PlayerNominated{PlayerID: target, Votes: count})}
		return append(events, must(g.enter(PhaseVerdict, at))...)

	case PhaseVerdict:
		tally := g.ledger.Tally()
		guilty, innocent := tally[Guilty], tally[Innocent]
		eliminated := guilty > innocent
		events := []Event{broadcast(VerdictResult{
			Accused:    g.accused,
			Guilty:     guilty,
			Innocent:   innocent,
			Eliminated: eliminated,
		})}
		if eliminated {
			events = append(events, g.eliminate(g.accused, CauseVote))
			if end := g.checkWin(at); end != nil {
				return append(events, end...)
			}
		}
		return append(events, g.startNight(at)...)
	}
	return nil
}

// startNight opens the next round, or ends the game when the round limit
// has been reached.
func (g *Game) startNight(at time.Time) []Event {
	if g.rules.MaxRounds > 0 && g.round >= g.rules.MaxRounds {
		return g.end(timeLimitOutcome(g.aliveCounts()), at)
	}
	g.round++
	return must(g.enter(PhaseNight, at))
}

func (g *Game) eliminate(playerID string, cause EliminationCause) Event {
	s := g.index[playerID]
	s.Alive = false
	s.EliminatedRound = g.round
	s.Cause = cause
	role, _ := catalog.Lookup(s.Role)
	return broadcast(PlayerEliminated{
		PlayerID:  s.ID,
		Name:      s.Name,
		Role:      role,
		Alignment: s.Alignment,
		Cause:     cause,
		Round:     g.round,
	})
}

func (g *Game) checkWin(at time.Time) []Event {
	out, ok := evaluate(g.aliveCounts(), g.rules.Parity)
	if !ok {
		return nil
	}
	return g.end(out, at)
}

func (g *Game) end(out Outcome, at time.Time) []Event {
	out.Round = g.round
	events := must(g.enter(PhaseGameEnded, at))
	g.outcome = &out
	g.ledger = nil
	g.accused = ""
	return append(events, broadcast(g.gameEnded()))
}

func (g *Game) gameEnded() GameEnded {
	out := *g.outcome
	roles := make([]FinalRole, len(g.seats))
	for i, s := range g.seats {
		roles[i] = FinalRole{
			PlayerID:  s.ID,
			Name:      s.Name,
			Role:      s.Role,
			Alignment: s.Alignment,
			Alive:     s.Alive,
		}
	}
	return GameEnded{
		WinningFaction: out.Winner,
		Condition:      out.Condition,
		Description:    out.Description,
		Round:          out.Round,
		Roles:          roles,
	}
}

// EndedEvent rebuilds the GAME_ENDED broadcast for late reconnects.
func (g *Game) EndedEvent() (Event, bool) {
	if g.outcome == nil {
		return Event{}, false
	}
	return broadcast(g.gameEnded()), true
}
