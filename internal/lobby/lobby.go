// Package lobby runs one goroutine per lobby. The goroutine owns the roster,
// the attached connections and, once started, the game; every mutation
// arrives as a message on its inbox and is applied in arrival order.
package lobby

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/xjhc/alignment/internal/apperr"
	"github.com/xjhc/alignment/internal/archive"
	"github.com/xjhc/alignment/internal/engine"
	"github.com/xjhc/alignment/internal/protocol"
)

var (
	ErrLobbyFull       = apperr.New(apperr.CodeConflict, "lobby is full")
	ErrNotWaiting      = apperr.New(apperr.CodeConflict, "lobby is not waiting for players")
	ErrTooFewPlayers   = apperr.New(apperr.CodeConflict, "not enough players to start")
	ErrDuplicatePlayer = apperr.New(apperr.CodeConflict, "player already in lobby")
	ErrNotHost         = apperr.New(apperr.CodeForbidden, "only the host can start the game")
	ErrUnknownPlayer   = apperr.New(apperr.CodeNotFound, "player not in lobby")
	ErrLobbyClosed     = apperr.New(apperr.CodeNotFound, "lobby no longer exists")
	ErrNoGame          = apperr.New(apperr.CodeInvalidAction, "game has not started")
)

const archiveTimeout = 10 * time.Second

type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusActive  Status = "ACTIVE"
	StatusClosed  Status = "CLOSED"
)

type Player struct {
	ID       string
	Name     string
	Avatar   string
	JoinedAt time.Time
}

type Config struct {
	MinPlayers int
	MaxPlayers int
	Rules      engine.Rules
}

type Info struct {
	ID   string
	Name string
	Host Player
}

type Deps struct {
	Logger   *zap.Logger
	Archiver archive.Archiver
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Rand deals roles; defaults to a randomly seeded generator.
	Rand *rand.Rand
}

type Msg interface{ isLobbyMsg() }

type Join struct {
	Player Player
	Reply  chan error
}

// Attach binds a live connection. Frames for the player are queued on
// Outbox; the lobby closes Outbox when the connection is detached, replaced
// or dropped.
type Attach struct {
	PlayerID string
	ConnID   string
	Outbox   chan protocol.Frame
	Reply    chan error
}

type Detach struct {
	PlayerID string
	ConnID   string
}

// Start begins the game. With a nil Reply a failure is reported to the
// requester's connection as an ERROR message.
type Start struct {
	RequesterID string
	Reply       chan error
}

// FromClient carries an in-game action. Rejections go back to the sender
// only.
type FromClient struct {
	PlayerID string
	Cmd      engine.Command
}

type GetSummary struct {
	Reply chan Summary
}

// GetState is test-only: it reflects internal state without data races.
type GetState struct {
	Reply chan View
}

type Shutdown struct{}

// Retire stops the lobby if it is stale at Now. The check and the stop run
// in the same turn of the loop, so a connection attached before it keeps the
// lobby alive.
type Retire struct {
	Now   time.Time
	TTLs  TTLs
	Reply chan bool
}

type timerFired struct {
	gen   uint64
	phase engine.Phase
}

func (Join) isLobbyMsg()       {}
func (Attach) isLobbyMsg()     {}
func (Detach) isLobbyMsg()     {}
func (Start) isLobbyMsg()      {}
func (FromClient) isLobbyMsg() {}
func (GetSummary) isLobbyMsg() {}
func (GetState) isLobbyMsg()   {}
func (Shutdown) isLobbyMsg()   {}
func (Retire) isLobbyMsg()     {}
func (timerFired) isLobbyMsg() {}

type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	HostID      string    `json:"host_id"`
	Status      Status    `json:"status"`
	PlayerCount int       `json:"player_count"`
	MaxPlayers  int       `json:"max_players"`
	Connected   int       `json:"connected"`
	CreatedAt   time.Time `json:"created_at"`
	// IdleSince is zero while any connection is attached.
	IdleSince time.Time `json:"-"`
	ClosedAt  time.Time `json:"-"`
}

type View struct {
	Status    Status
	HostID    string
	Players   []Player
	Connected []string
	Phase     engine.Phase
	Round     int
	TimerGen  uint64
}

type Lobby struct {
	id        string
	name      string
	hostID    string
	cfg       Config
	players   []Player
	status    Status
	createdAt time.Time
	startedAt time.Time
	closedAt  time.Time
	idleSince time.Time

	game     *engine.Game
	reg      *registry
	timer    *time.Timer
	timerGen uint64

	log      *zap.Logger
	archiver archive.Archiver
	now      func() time.Time
	rng      *rand.Rand

	inbox   chan Msg
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New starts the goroutine of a WAITING lobby whose roster holds the host.
func New(parent context.Context, info Info, cfg Config, deps Deps) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Archiver == nil {
		deps.Archiver = archive.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	now := deps.Clock()
	info.Host.JoinedAt = now
	l := &Lobby{
		id:        info.ID,
		name:      info.Name,
		hostID:    info.Host.ID,
		cfg:       cfg,
		players:   []Player{info.Host},
		status:    StatusWaiting,
		createdAt: now,
		idleSince: now,
		reg:       newRegistry(),
		log:       deps.Logger.With(zap.String("lobby_id", info.ID)),
		archiver:  deps.Archiver,
		now:       deps.Clock,
		rng:       deps.Rand,
		inbox:     make(chan Msg, 64),
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}

	go l.loop()
	return l
}

func (l *Lobby) ID() string   { return l.id }
func (l *Lobby) Name() string { return l.name }

// Inbox exposes the inbox so tests or the ws layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the lobby goroutine has stopped.
func (l *Lobby) Done() <-chan struct{} { return l.stopped }

// Post enqueues m without waiting for it to be processed.
func (l *Lobby) Post(ctx context.Context, m Msg) error {
	select {
	case <-l.ctx.Done():
		return ErrLobbyClosed
	default:
	}
	select {
	case l.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrLobbyClosed
	}
}

func ask[T any](ctx context.Context, l *Lobby, m Msg, reply chan T) (T, error) {
	var zero T
	if err := l.Post(ctx, m); err != nil {
		return zero, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-l.ctx.Done():
		return zero, ErrLobbyClosed
	}
}

func (l *Lobby) Join(ctx context.Context, p Player) error {
	reply := make(chan error, 1)
	res, err := ask(ctx, l, Join{Player: p, Reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

func (l *Lobby) Attach(ctx context.Context, playerID, connID string, outbox chan protocol.Frame) error {
	reply := make(chan error, 1)
	res, err := ask(ctx, l, Attach{PlayerID: playerID, ConnID: connID, Outbox: outbox, Reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

func (l *Lobby) Detach(ctx context.Context, playerID, connID string) error {
	return l.Post(ctx, Detach{PlayerID: playerID, ConnID: connID})
}

func (l *Lobby) Start(ctx context.Context, requesterID string) error {
	reply := make(chan error, 1)
	res, err := ask(ctx, l, Start{RequesterID: requesterID, Reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

func (l *Lobby) Summary(ctx context.Context) (Summary, error) {
	reply := make(chan Summary, 1)
	return ask(ctx, l, GetSummary{Reply: reply}, reply)
}

func (l *Lobby) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	return ask(ctx, l, GetState{Reply: reply}, reply)
}

// Retire asks the lobby to stop itself if it is stale. A lobby that has
// already stopped reports true.
func (l *Lobby) Retire(ctx context.Context, now time.Time, ttls TTLs) (bool, error) {
	reply := make(chan bool, 1)
	retired, err := ask(ctx, l, Retire{Now: now, TTLs: ttls, Reply: reply}, reply)
	if errors.Is(err, ErrLobbyClosed) {
		<-l.stopped
		return true, nil
	}
	return retired, err
}

// Shutdown stops the lobby, closes every attached outbox and waits for the
// goroutine to exit.
func (l *Lobby) Shutdown() {
	select {
	case l.inbox <- Shutdown{}:
	case <-l.ctx.Done():
	}
	<-l.stopped
}

func (l *Lobby) loop() {
	defer l.shutdown()
	for {
		select {
		case <-l.ctx.Done():
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- l.join(msg.Player)

			case Attach:
				msg.Reply <- l.attach(msg)

			case Detach:
				l.detach(msg.PlayerID, msg.ConnID)

			case Start:
				err := l.start(msg.RequesterID)
				l.respond(msg.RequesterID, protocol.TypeStartGame, msg.Reply, err)

			case FromClient:
				err := l.fromClient(msg)
				l.respond(msg.PlayerID, protocol.MessageType(msg.Cmd.Type), nil, err)

			case timerFired:
				l.timerFired(msg)

			case GetSummary:
				msg.Reply <- l.summary()

			case GetState:
				msg.Reply <- l.view()

			case Shutdown:
				return

			case Retire:
				stale := msg.TTLs.Stale(l.summary(), msg.Now)
				msg.Reply <- stale
				if stale {
					l.log.Info("retiring stale lobby", zap.String("status", string(l.status)))
					return
				}
			}
		}
	}
}

func (l *Lobby) shutdown() {
	l.stopTimer()
	l.reg.closeAll()
	l.cancel()
	l.log.Debug("lobby stopped")
	close(l.stopped)
}

// respond answers on reply when there is one; otherwise a failure is sent
// to the player alone.
func (l *Lobby) respond(playerID string, action protocol.MessageType, reply chan error, err error) {
	if reply != nil {
		reply <- err
		return
	}
	if err == nil {
		return
	}
	l.log.Debug("action rejected", zap.String("player_id", playerID), zap.String("action", string(action)), zap.Error(err))
	l.send(playerID, protocol.Frame{protocol.ErrorMessage(err, action)})
}

// send queues f for one player and accounts for a dropped connection.
func (l *Lobby) send(playerID string, f protocol.Frame) {
	if l.reg.unicast(playerID, f) {
		l.logDropped([]string{playerID})
	}
}

func (l *Lobby) indexOf(playerID string) int {
	return slices.IndexFunc(l.players, func(p Player) bool { return p.ID == playerID })
}

func (l *Lobby) join(p Player) error {
	if l.status != StatusWaiting {
		return ErrNotWaiting
	}
	if len(l.players) >= l.cfg.MaxPlayers {
		return ErrLobbyFull
	}
	if l.indexOf(p.ID) >= 0 {
		return ErrDuplicatePlayer
	}
	p.JoinedAt = l.now()
	l.players = append(l.players, p)
	l.log.Info("player joined", zap.String("player_id", p.ID), zap.Int("players", len(l.players)))

	l.broadcastLobbyState("")
	return nil
}

func (l *Lobby) attach(msg Attach) error {
	if l.indexOf(msg.PlayerID) < 0 {
		return ErrUnknownPlayer
	}
	if l.reg.attach(msg.PlayerID, msg.ConnID, msg.Outbox) {
		l.log.Info("connection replaced", zap.String("player_id", msg.PlayerID))
	}
	l.idleSince = time.Time{}

	frame := protocol.Frame{{
		Type: protocol.TypeClientIdentified,
		Payload: protocol.ClientIdentified{
			PlayerID: msg.PlayerID,
			LobbyID:  l.id,
			IsHost:   msg.PlayerID == l.hostID,
		},
	}}
	frame = append(frame, l.stateFor(msg.PlayerID)...)
	l.send(msg.PlayerID, frame)

	l.presenceChanged(msg.PlayerID)
	return nil
}

// stateFor is what a freshly attached player needs to catch up.
func (l *Lobby) stateFor(playerID string) protocol.Frame {
	if l.game == nil {
		return protocol.Frame{{Type: protocol.TypeLobbyStateUpdate, Payload: l.lobbyState()}}
	}
	var f protocol.Frame
	if e, ok := l.game.RoleAssignment(playerID); ok {
		f = append(f, protocol.FromEvent(e))
	}
	for _, e := range l.game.ChatLog() {
		f = append(f, protocol.FromEvent(e))
	}
	f = append(f, protocol.Snapshot(l.game.Snapshot(l.reg.connected)))
	if e, ok := l.game.EndedEvent(); ok {
		f = append(f, protocol.FromEvent(e))
	}
	return f
}

func (l *Lobby) detach(playerID, connID string) {
	if !l.reg.detach(playerID, connID) {
		return
	}
	l.log.Info("player disconnected", zap.String("player_id", playerID))
	if l.reg.len() == 0 {
		l.idleSince = l.now()
	}
	l.presenceChanged("")
}

// presenceChanged tells the other attached players that a connection came
// or went: the roster before the game, a fresh snapshot during it.
func (l *Lobby) presenceChanged(except string) {
	if l.game == nil {
		l.broadcastLobbyState(except)
		return
	}
	snap := protocol.Snapshot(l.game.Snapshot(l.reg.connected))
	dropped := l.reg.broadcast(func(playerID string) protocol.Frame {
		if playerID == except {
			return nil
		}
		return protocol.Frame{snap}
	})
	l.logDropped(dropped)
}

func (l *Lobby) start(requesterID string) error {
	if requesterID != l.hostID {
		return ErrNotHost
	}
	if l.status != StatusWaiting {
		return ErrNotWaiting
	}
	if len(l.players) < l.cfg.MinPlayers {
		return ErrTooFewPlayers
	}

	roster := make([]engine.Participant, len(l.players))
	for i, p := range l.players {
		roster[i] = engine.Participant{ID: p.ID, Name: p.Name, Avatar: p.Avatar}
	}
	game, events, err := engine.NewGame(roster, l.cfg.Rules, l.rng, l.now())
	if err != nil {
		return err
	}

	l.game = game
	l.status = StatusActive
	l.startedAt = l.now()
	l.log.Info("game started", zap.Int("players", len(roster)))

	l.publish(events)
	l.armTimer()
	return nil
}

func (l *Lobby) fromClient(msg FromClient) error {
	if l.game == nil {
		return ErrNoGame
	}
	if msg.Cmd.Type == engine.CmdAdvance {
		return engine.ErrUnsupportedCommand
	}
	cmd := msg.Cmd
	cmd.PlayerID = msg.PlayerID
	cmd.At = l.now()
	return l.apply(cmd)
}

func (l *Lobby) timerFired(msg timerFired) {
	if msg.gen != l.timerGen || l.game == nil {
		return
	}
	err := l.apply(engine.Command{Type: engine.CmdAdvance, From: msg.phase, At: l.now()})
	if err != nil && !errors.Is(err, engine.ErrStaleAdvance) {
		l.log.Warn("timed advance failed", zap.Error(err))
	}
}

// apply runs cmd against the game and publishes the result in the same step.
func (l *Lobby) apply(cmd engine.Command) error {
	phase, round := l.game.Phase(), l.game.Round()
	events, err := l.game.Apply(cmd)
	if err != nil {
		return err
	}
	l.publish(events)

	if l.game.Phase() == phase && l.game.Round() == round {
		return nil
	}
	if l.game.Phase() == engine.PhaseGameEnded {
		l.finish()
		return nil
	}
	l.armTimer()
	return nil
}

// publish sends every attached player the events it may see followed by a
// fresh snapshot, as one frame.
func (l *Lobby) publish(events []engine.Event) {
	snap := protocol.Snapshot(l.game.Snapshot(l.reg.connected))
	dropped := l.reg.broadcast(func(playerID string) protocol.Frame {
		f := make(protocol.Frame, 0, len(events)+1)
		for _, e := range events {
			if e.VisibleTo(playerID) {
				f = append(f, protocol.FromEvent(e))
			}
		}
		return append(f, snap)
	})
	l.logDropped(dropped)
}

func (l *Lobby) broadcastLobbyState(except string) {
	msg := protocol.Message{Type: protocol.TypeLobbyStateUpdate, Payload: l.lobbyState()}
	dropped := l.reg.broadcast(func(playerID string) protocol.Frame {
		if playerID == except {
			return nil
		}
		return protocol.Frame{msg}
	})
	l.logDropped(dropped)
}

func (l *Lobby) logDropped(ids []string) {
	for _, id := range ids {
		l.log.Warn("dropped slow connection", zap.String("player_id", id))
	}
	if len(ids) > 0 && l.reg.len() == 0 {
		l.idleSince = l.now()
	}
}

func (l *Lobby) lobbyState() protocol.LobbyState {
	players := make([]protocol.LobbyPlayer, len(l.players))
	for i, p := range l.players {
		players[i] = protocol.LobbyPlayer{
			ID:        p.ID,
			Name:      p.Name,
			Avatar:    p.Avatar,
			Connected: l.reg.connected(p.ID),
		}
	}
	return protocol.LobbyState{
		LobbyID:    l.id,
		Name:       l.name,
		HostID:     l.hostID,
		Status:     string(l.status),
		MinPlayers: l.cfg.MinPlayers,
		MaxPlayers: l.cfg.MaxPlayers,
		Players:    players,
	}
}

// armTimer schedules the close of the current phase. Fires from an older
// generation are dropped on arrival.
func (l *Lobby) armTimer() {
	l.stopTimer()
	deadline := l.game.Deadline()
	if deadline.IsZero() {
		return
	}
	gen, phase := l.timerGen, l.game.Phase()
	l.timer = time.AfterFunc(max(deadline.Sub(l.now()), 0), func() {
		select {
		case l.inbox <- timerFired{gen: gen, phase: phase}:
		case <-l.ctx.Done():
		}
	})
}

func (l *Lobby) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.timerGen++
}

func (l *Lobby) finish() {
	l.stopTimer()
	l.status = StatusClosed
	l.closedAt = l.now()

	out, _ := l.game.Outcome()
	l.log.Info("game ended",
		zap.String("winner", string(out.Winner)),
		zap.String("condition", string(out.Condition)),
		zap.Int("round", out.Round))

	rec := l.record(out)
	arch, log := l.archiver, l.log
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := arch.Save(ctx, rec); err != nil {
			log.Error("archive game", zap.Error(err))
		}
	}()
}

func (l *Lobby) record(out engine.Outcome) archive.GameRecord {
	seats := l.game.Seats()
	players := make([]archive.PlayerRecord, len(seats))
	for i, s := range seats {
		players[i] = archive.PlayerRecord{
			Seat:      i,
			PlayerID:  s.ID,
			Name:      s.Name,
			Role:      string(s.Role),
			Alignment: string(s.Alignment),
			Survived:  s.Alive,
		}
	}
	return archive.GameRecord{
		ID:             l.id,
		LobbyName:      l.name,
		WinningFaction: string(out.Winner),
		Condition:      string(out.Condition),
		Rounds:         out.Round,
		StartedAt:      l.startedAt,
		EndedAt:        l.closedAt,
		Players:        players,
	}
}

func (l *Lobby) summary() Summary {
	return Summary{
		ID:          l.id,
		Name:        l.name,
		HostID:      l.hostID,
		Status:      l.status,
		PlayerCount: len(l.players),
		MaxPlayers:  l.cfg.MaxPlayers,
		Connected:   l.reg.len(),
		CreatedAt:   l.createdAt,
		IdleSince:   l.idleSince,
		ClosedAt:    l.closedAt,
	}
}

func (l *Lobby) view() View {
	v := View{
		Status:   l.status,
		HostID:   l.hostID,
		Players:  slices.Clone(l.players),
		TimerGen: l.timerGen,
	}
	for _, p := range l.players {
		if l.reg.connected(p.ID) {
			v.Connected = append(v.Connected, p.ID)
		}
	}
	if l.game != nil {
		v.Phase = l.game.Phase()
		v.Round = l.game.Round()
	}
	return v
}
