package lobby

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xjhc/alignment/internal/apperr"
	"github.com/xjhc/alignment/internal/archive"
	"github.com/xjhc/alignment/internal/catalog"
	"github.com/xjhc/alignment/internal/engine"
	"github.com/xjhc/alignment/internal/protocol"
)

// helper: receive one frame with a timeout so tests never hang
func recvFrame(t *testing.T, ch <-chan protocol.Frame, within time.Duration) protocol.Frame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return f
	case <-time.After(within):
		t.Fatalf("timed out waiting for frame")
		return nil
	}
}

func recvNoFrame(t *testing.T, ch <-chan protocol.Frame, within time.Duration) {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no frame within %v, got %v", within, f.Types())
	case <-time.After(within):
	}
}

// drain returns every frame that arrives before the channel goes quiet.
func drain(ch <-chan protocol.Frame, quiet time.Duration) []protocol.Frame {
	var out []protocol.Frame
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-time.After(quiet):
			return out
		}
	}
}

func payloadOf[T any](t *testing.T, f protocol.Frame, typ protocol.MessageType) T {
	t.Helper()
	for _, m := range f {
		if m.Type == typ {
			p, ok := m.Payload.(T)
			require.True(t, ok, "payload of %s has type %T", typ, m.Payload)
			return p
		}
	}
	t.Fatalf("frame %v has no %s", f.Types(), typ)
	var zero T
	return zero
}

func rosterIDs(s protocol.LobbyState) []string {
	ids := make([]string, len(s.Players))
	for i, p := range s.Players {
		ids[i] = p.ID
	}
	return ids
}

// waitPhase reads frames until a snapshot in phase arrives.
func waitPhase(t *testing.T, ch <-chan protocol.Frame, phase engine.Phase, within time.Duration) engine.Snapshot {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case f, ok := <-ch:
			require.True(t, ok, "outbox closed while waiting for %s", phase)
			for _, m := range f {
				if s, ok := m.Payload.(engine.Snapshot); ok && s.Phase == phase {
					return s
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %s", phase)
			return engine.Snapshot{}
		}
	}
}

func slowRules() engine.Rules {
	r := engine.DefaultRules()
	r.NightDuration = time.Minute
	r.DiscussionDuration = time.Minute
	r.NominationDuration = time.Minute
	r.VerdictDuration = time.Minute
	r.MaxRounds = 0
	return r
}

func fastDayRules() engine.Rules {
	r := slowRules()
	r.NightDuration = 20 * time.Millisecond
	r.DiscussionDuration = 20 * time.Millisecond
	return r
}

type fakeArchiver struct {
	archive.Nop
	saved chan archive.GameRecord
}

func (f *fakeArchiver) Save(_ context.Context, rec archive.GameRecord) error {
	f.saved <- rec
	return nil
}

func newTestLobby(t *testing.T, cfg Config, deps Deps) *Lobby {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if deps.Logger == nil {
		deps.Logger = zaptest.NewLogger(t)
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(3, 5))
	}
	l := New(ctx, Info{ID: "lobby-1", Name: "Ops", Host: Player{ID: "p1", Name: "Host"}}, cfg, deps)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func config(minPlayers, maxPlayers int, rules engine.Rules) Config {
	return Config{MinPlayers: minPlayers, MaxPlayers: maxPlayers, Rules: rules}
}

// seat joins and attaches n-1 guests after the host and drains their
// catch-up traffic.
func seat(t *testing.T, l *Lobby, n int) map[string]chan protocol.Frame {
	t.Helper()
	ctx := context.Background()
	outs := make(map[string]chan protocol.Frame, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("p%d", i)
		if i > 1 {
			require.NoError(t, l.Join(ctx, Player{ID: id, Name: fmt.Sprintf("Player %d", i)}))
		}
		outs[id] = make(chan protocol.Frame, 32)
		require.NoError(t, l.Attach(ctx, id, "conn-"+id, outs[id]))
	}
	for _, ch := range outs {
		drain(ch, 20*time.Millisecond)
	}
	return outs
}

func TestLobby_AttachSendsIdentificationAndRoster(t *testing.T) {
	l := newTestLobby(t, config(4, 8, slowRules()), Deps{})
	out := make(chan protocol.Frame, 4)

	require.NoError(t, l.Attach(context.Background(), "p1", "c1", out))

	f := recvFrame(t, out, 100*time.Millisecond)
	assert.Equal(t, []protocol.MessageType{protocol.TypeClientIdentified, protocol.TypeLobbyStateUpdate}, f.Types())

	id := payloadOf[protocol.ClientIdentified](t, f, protocol.TypeClientIdentified)
	assert.Equal(t, "p1", id.PlayerID)
	assert.True(t, id.IsHost)

	state := payloadOf[protocol.LobbyState](t, f, protocol.TypeLobbyStateUpdate)
	assert.Equal(t, []string{"p1"}, rosterIDs(state))
	assert.True(t, state.Players[0].Connected)

	err := l.Attach(context.Background(), "stranger", "c2", make(chan protocol.Frame, 1))
	assert.ErrorIs(t, err, ErrUnknownPlayer)
}

func TestLobby_JoinBroadcastReachesExistingConnections(t *testing.T) {
	l := newTestLobby(t, config(4, 8, slowRules()), Deps{})
	ctx := context.Background()
	host := make(chan protocol.Frame, 16)
	require.NoError(t, l.Attach(ctx, "p1", "c1", host))
	recvFrame(t, host, 100*time.Millisecond)

	for i := 2; i <= 4; i++ {
		require.NoError(t, l.Join(ctx, Player{ID: fmt.Sprintf("p%d", i)}))
		f := recvFrame(t, host, 100*time.Millisecond)
		state := payloadOf[protocol.LobbyState](t, f, protocol.TypeLobbyStateUpdate)
		assert.Len(t, state.Players, i)
	}

	require.NoError(t, l.Join(ctx, Player{ID: "p5"}))
	late := make(chan protocol.Frame, 4)
	require.NoError(t, l.Attach(ctx, "p5", "c5", late))

	first := recvFrame(t, late, 100*time.Millisecond)
	state := payloadOf[protocol.LobbyState](t, first, protocol.TypeLobbyStateUpdate)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5"}, rosterIDs(state))
}

func TestLobby_ConcurrentJoinAndAttach(t *testing.T) {
	const guests = 7
	l := newTestLobby(t, config(4, guests+1, slowRules()), Deps{})
	ctx := context.Background()

	host := make(chan protocol.Frame, 64)
	require.NoError(t, l.Attach(ctx, "p1", "c1", host))

	outs := make([]chan protocol.Frame, guests)
	var wg sync.WaitGroup
	for i := range guests {
		outs[i] = make(chan protocol.Frame, 64)
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("g%d", i)
			assert.NoError(t, l.Join(ctx, Player{ID: id}))
			assert.NoError(t, l.Attach(ctx, id, "c-"+id, outs[i]))
		}()
	}
	wg.Wait()

	for i, ch := range outs {
		frames := drain(ch, 50*time.Millisecond)
		require.NotEmpty(t, frames)

		first := payloadOf[protocol.LobbyState](t, frames[0], protocol.TypeLobbyStateUpdate)
		assert.Contains(t, rosterIDs(first), fmt.Sprintf("g%d", i), "attaching player must see its own join")

		last := payloadOf[protocol.LobbyState](t, frames[len(frames)-1], protocol.TypeLobbyStateUpdate)
		assert.Len(t, last.Players, guests+1)
	}

	frames := drain(host, 50*time.Millisecond)
	last := payloadOf[protocol.LobbyState](t, frames[len(frames)-1], protocol.TypeLobbyStateUpdate)
	assert.Len(t, last.Players, guests+1)
	for _, p := range last.Players {
		assert.True(t, p.Connected, p.ID)
	}
}

func TestLobby_JoinRejections(t *testing.T) {
	l := newTestLobby(t, config(2, 3, slowRules()), Deps{})
	ctx := context.Background()

	require.NoError(t, l.Join(ctx, Player{ID: "p2"}))
	assert.ErrorIs(t, l.Join(ctx, Player{ID: "p2"}), ErrDuplicatePlayer)
	require.NoError(t, l.Join(ctx, Player{ID: "p3"}))
	assert.ErrorIs(t, l.Join(ctx, Player{ID: "p4"}), ErrLobbyFull)

	require.NoError(t, l.Start(ctx, "p1"))
	err := l.Join(ctx, Player{ID: "p5"})
	assert.ErrorIs(t, err, ErrNotWaiting)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestLobby_StartRejections(t *testing.T) {
	l := newTestLobby(t, config(3, 8, slowRules()), Deps{})
	outs := seat(t, l, 2)
	ctx := context.Background()

	assert.ErrorIs(t, l.Start(ctx, "p2"), ErrNotHost)
	assert.ErrorIs(t, l.Start(ctx, "p1"), ErrTooFewPlayers)

	// Without a reply channel the failure goes to the requester only.
	require.NoError(t, l.Post(ctx, Start{RequesterID: "p2"}))
	f := recvFrame(t, outs["p2"], 100*time.Millisecond)
	require.Equal(t, []protocol.MessageType{protocol.TypeError}, f.Types())
	p := f[0].Payload.(protocol.ErrorPayload)
	assert.Equal(t, apperr.CodeForbidden, p.Code)
	assert.Equal(t, protocol.TypeStartGame, p.Action)
	recvNoFrame(t, outs["p1"], 50*time.Millisecond)

	v, err := l.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, v.Status)
}

func TestLobby_StartDeliversRoleAndSnapshotInOneFrame(t *testing.T) {
	l := newTestLobby(t, config(4, 8, slowRules()), Deps{})
	outs := seat(t, l, 5)

	require.NoError(t, l.Start(context.Background(), "p1"))

	aligned := 0
	for id, ch := range outs {
		f := recvFrame(t, ch, 100*time.Millisecond)
		assert.Equal(t, []protocol.MessageType{
			protocol.TypeRoleAssigned,
			protocol.TypePhaseChanged,
			protocol.TypeGameStateUpdate,
		}, f.Types())

		role := payloadOf[engine.RoleAssigned](t, f, protocol.TypeRoleAssigned)
		assert.Equal(t, id, role.PlayerID)
		if role.Alignment == catalog.AlignmentAligned {
			aligned++
		}

		snap := payloadOf[engine.Snapshot](t, f, protocol.TypeGameStateUpdate)
		assert.Equal(t, engine.PhaseNight, snap.Phase)
		assert.Len(t, snap.Players, 5)
		recvNoFrame(t, ch, 20*time.Millisecond)
	}
	assert.Equal(t, 1, aligned)

	v, err := l.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusActive, v.Status)
	assert.Equal(t, engine.PhaseNight, v.Phase)
}

func TestLobby_RejectedActionOnlyReachesSender(t *testing.T) {
	l := newTestLobby(t, config(4, 8, slowRules()), Deps{})
	outs := seat(t, l, 4)
	ctx := context.Background()
	require.NoError(t, l.Start(ctx, "p1"))
	for _, ch := range outs {
		recvFrame(t, ch, 100*time.Millisecond)
	}

	require.NoError(t, l.Post(ctx, FromClient{
		PlayerID: "p2",
		Cmd:      engine.Command{Type: engine.CmdVote, VoteKind: engine.VoteNomination, Target: "p3"},
	}))

	f := recvFrame(t, outs["p2"], 100*time.Millisecond)
	require.Equal(t, []protocol.MessageType{protocol.TypeError}, f.Types())
	p := f[0].Payload.(protocol.ErrorPayload)
	assert.Equal(t, apperr.CodeInvalidAction, p.Code)
	assert.Equal(t, protocol.TypeSubmitVote, p.Action)

	for _, id := range []string{"p1", "p3", "p4"} {
		recvNoFrame(t, outs[id], 30*time.Millisecond)
	}

	// Clients cannot drive the phase clock.
	require.NoError(t, l.Post(ctx, FromClient{PlayerID: "p2", Cmd: engine.Command{Type: engine.CmdAdvance, From: engine.PhaseNight}}))
	f = recvFrame(t, outs["p2"], 100*time.Millisecond)
	assert.Equal(t, []protocol.MessageType{protocol.TypeError}, f.Types())
	v, _ := l.State(ctx)
	assert.Equal(t, engine.PhaseNight, v.Phase)
}

func TestLobby_ActionBeforeStartIsRejected(t *testing.T) {
	l := newTestLobby(t, config(4, 8, slowRules()), Deps{})
	outs := seat(t, l, 1)

	require.NoError(t, l.Post(context.Background(), FromClient{PlayerID: "p1", Cmd: engine.Command{Type: engine.CmdNightAction, Target: "p1"}}))
	f := recvFrame(t, outs["p1"], 100*time.Millisecond)
	p := f[0].Payload.(protocol.ErrorPayload)
	assert.Equal(t, "game has not started", p.Message)
}

func TestLobby_DropSlowClient(t *testing.T) {
	l := newTestLobby(t, config(2, 8, slowRules()), Deps{})
	ctx := context.Background()

	out := make(chan protocol.Frame, 1)
	require.NoError(t, l.Attach(ctx, "p1", "c1", out))
	require.NoError(t, l.Join(ctx, Player{ID: "p2"}))

	view, err := l.State(ctx)
	require.NoError(t, err)
	assert.Empty(t, view.Connected, "expected slow client to be dropped")

	recvFrame(t, out, 100*time.Millisecond)
	_, ok := <-out
	assert.False(t, ok, "dropped outbox must be closed")
}

func TestLobby_SecondAttachReplacesConnection(t *testing.T) {
	l := newTestLobby(t, config(2, 8, slowRules()), Deps{})
	ctx := context.Background()

	first := make(chan protocol.Frame, 4)
	second := make(chan protocol.Frame, 4)
	require.NoError(t, l.Attach(ctx, "p1", "c1", first))
	require.NoError(t, l.Attach(ctx, "p1", "c2", second))

	drain(first, 20*time.Millisecond)
	_, ok := <-first
	assert.False(t, ok)
	recvFrame(t, second, 100*time.Millisecond)

	// A late detach from the replaced socket must not unbind the new one.
	require.NoError(t, l.Detach(ctx, "p1", "c1"))
	v, _ := l.State(ctx)
	assert.Equal(t, []string{"p1"}, v.Connected)

	require.NoError(t, l.Detach(ctx, "p1", "c2"))
	v, _ = l.State(ctx)
	assert.Empty(t, v.Connected)
	s, _ := l.Summary(ctx)
	assert.False(t, s.IdleSince.IsZero())
}

func TestLobby_TimerAdvancesPhase(t *testing.T) {
	rules := slowRules()
	rules.NightDuration = 30 * time.Millisecond
	l := newTestLobby(t, config(4, 8, rules), Deps{})
	outs := seat(t, l, 4)

	require.NoError(t, l.Start(context.Background(), "p1"))
	recvFrame(t, outs["p1"], 100*time.Millisecond)

	f := recvFrame(t, outs["p1"], 500*time.Millisecond)
	pc := payloadOf[engine.PhaseChanged](t, f, protocol.TypePhaseChanged)
	assert.Equal(t, engine.PhaseDayDiscussion, pc.Phase)
	assert.Equal(t, engine.PhaseNight, pc.PreviousPhase)
}

func TestLobby_TimerGen_DropsStaleFires(t *testing.T) {
	l := newTestLobby(t, config(4, 8, slowRules()), Deps{})
	outs := seat(t, l, 4)
	ctx := context.Background()
	require.NoError(t, l.Start(ctx, "p1"))
	recvFrame(t, outs["p1"], 100*time.Millisecond)

	v, err := l.State(ctx)
	require.NoError(t, err)

	l.Inbox() <- timerFired{gen: v.TimerGen - 1, phase: engine.PhaseNight}
	recvNoFrame(t, outs["p1"], 50*time.Millisecond)

	// A current-generation fire for a phase that already closed is ignored too.
	l.Inbox() <- timerFired{gen: v.TimerGen, phase: engine.PhaseVerdict}
	recvNoFrame(t, outs["p1"], 50*time.Millisecond)

	l.Inbox() <- timerFired{gen: v.TimerGen, phase: engine.PhaseNight}
	snap := waitPhase(t, outs["p1"], engine.PhaseDayDiscussion, 200*time.Millisecond)
	assert.Equal(t, 1, snap.Round)
}

func TestLobby_ReconnectKeepsVotes(t *testing.T) {
	l := newTestLobby(t, config(4, 8, fastDayRules()), Deps{})
	outs := seat(t, l, 4)
	ctx := context.Background()
	require.NoError(t, l.Start(ctx, "p1"))
	waitPhase(t, outs["p1"], engine.PhaseNomination, time.Second)

	require.NoError(t, l.Post(ctx, FromClient{
		PlayerID: "p1",
		Cmd:      engine.Command{Type: engine.CmdVote, VoteKind: engine.VoteNomination, Target: "p2"},
	}))
	f := recvFrame(t, outs["p1"], 100*time.Millisecond)
	snap := payloadOf[engine.Snapshot](t, f, protocol.TypeGameStateUpdate)
	assert.Equal(t, map[string]int{"p2": 1}, snap.Nominations)

	require.NoError(t, l.Detach(ctx, "p1", "conn-p1"))
	back := make(chan protocol.Frame, 8)
	require.NoError(t, l.Attach(ctx, "p1", "conn-p1b", back))

	f = recvFrame(t, back, 100*time.Millisecond)
	assert.Equal(t, []protocol.MessageType{
		protocol.TypeClientIdentified,
		protocol.TypeRoleAssigned,
		protocol.TypeGameStateUpdate,
	}, f.Types())
	snap = payloadOf[engine.Snapshot](t, f, protocol.TypeGameStateUpdate)
	assert.Equal(t, engine.PhaseNomination, snap.Phase)
	assert.Equal(t, map[string]int{"p2": 1}, snap.Nominations)
	assert.Equal(t, []string{"p1"}, snap.Voted)

	require.NoError(t, l.Post(ctx, FromClient{
		PlayerID: "p1",
		Cmd:      engine.Command{Type: engine.CmdVote, VoteKind: engine.VoteNomination, Target: "p3"},
	}))
	f = recvFrame(t, back, 100*time.Millisecond)
	snap = payloadOf[engine.Snapshot](t, f, protocol.TypeGameStateUpdate)
	assert.Equal(t, map[string]int{"p3": 1}, snap.Nominations)
}

func TestLobby_GameEndClosesLobbyAndArchives(t *testing.T) {
	arch := &fakeArchiver{saved: make(chan archive.GameRecord, 1)}
	l := newTestLobby(t, config(2, 8, slowRules()), Deps{Archiver: arch})
	outs := seat(t, l, 2)
	ctx := context.Background()
	require.NoError(t, l.Start(ctx, "p1"))

	// Two players: one rogue AI and the CISO.
	roles := map[catalog.RoleType]string{}
	for id, ch := range outs {
		ra := payloadOf[engine.RoleAssigned](t, recvFrame(t, ch, 100*time.Millisecond), protocol.TypeRoleAssigned)
		roles[ra.Role.Type] = id
	}
	cto, ciso := roles[catalog.RoleCTO], roles[catalog.RoleCISO]
	require.NotEmpty(t, cto)
	require.NotEmpty(t, ciso)

	require.NoError(t, l.Post(ctx, FromClient{PlayerID: ciso, Cmd: engine.Command{Type: engine.CmdNightAction, Target: cto}}))
	require.NoError(t, l.Post(ctx, FromClient{PlayerID: cto, Cmd: engine.Command{Type: engine.CmdNightAction, Target: ciso}}))

	var ended engine.GameEnded
	for ended.WinningFaction == "" {
		f := recvFrame(t, outs[cto], 200*time.Millisecond)
		for _, m := range f {
			if g, ok := m.Payload.(engine.GameEnded); ok {
				ended = g
			}
		}
	}
	assert.Equal(t, catalog.FactionAI, ended.WinningFaction)

	select {
	case rec := <-arch.saved:
		assert.Equal(t, "lobby-1", rec.ID)
		assert.Equal(t, "AI", rec.WinningFaction)
		assert.Len(t, rec.Players, 2)
	case <-time.After(time.Second):
		t.Fatal("game was not archived")
	}

	v, err := l.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, v.Status)

	// Late reconnects still learn the result.
	late := make(chan protocol.Frame, 4)
	require.NoError(t, l.Attach(ctx, ciso, "late", late))
	f := recvFrame(t, late, 100*time.Millisecond)
	assert.Equal(t, protocol.TypeGameEnded, f[len(f)-1].Type)
}

func TestLobby_Shutdown_StopsTimer_ClosesOutboxes(t *testing.T) {
	rules := slowRules()
	rules.NightDuration = 100 * time.Millisecond
	l := newTestLobby(t, config(2, 8, rules), Deps{})
	outs := seat(t, l, 2)
	require.NoError(t, l.Start(context.Background(), "p1"))
	recvFrame(t, outs["p1"], 100*time.Millisecond)

	l.Shutdown()
	<-l.Done()

	recvNoFrame(t, outs["p1"], 200*time.Millisecond)
	_, ok := <-outs["p1"]
	assert.False(t, ok)

	_, err := l.State(context.Background())
	assert.ErrorIs(t, err, ErrLobbyClosed)
}

func TestLobby_ChatReachesEveryoneAndReplaysOnReconnect(t *testing.T) {
	rules := slowRules()
	rules.NightDuration = 20 * time.Millisecond
	l := newTestLobby(t, config(4, 8, rules), Deps{})
	outs := seat(t, l, 4)
	ctx := context.Background()
	require.NoError(t, l.Start(ctx, "p1"))
	for _, ch := range outs {
		waitPhase(t, ch, engine.PhaseDayDiscussion, time.Second)
	}

	require.NoError(t, l.Post(ctx, FromClient{
		PlayerID: "p2",
		Cmd:      engine.Command{Type: engine.CmdChat, Text: "p3 was quiet last night"},
	}))
	for id, ch := range outs {
		f := recvFrame(t, ch, 100*time.Millisecond)
		msg := payloadOf[engine.ChatMessage](t, f, protocol.TypeChatMessage)
		assert.Equal(t, "p2", msg.PlayerID, id)
		assert.Equal(t, "p3 was quiet last night", msg.Message, id)
	}

	require.NoError(t, l.Post(ctx, FromClient{
		PlayerID: "p2",
		Cmd:      engine.Command{Type: engine.CmdChat, Text: "   "},
	}))
	f := recvFrame(t, outs["p2"], 100*time.Millisecond)
	require.Equal(t, []protocol.MessageType{protocol.TypeError}, f.Types())
	assert.Equal(t, protocol.TypePostChatMessage, f[0].Payload.(protocol.ErrorPayload).Action)
	recvNoFrame(t, outs["p1"], 30*time.Millisecond)

	back := make(chan protocol.Frame, 8)
	require.NoError(t, l.Attach(ctx, "p3", "conn-p3b", back))
	f = recvFrame(t, back, 100*time.Millisecond)
	assert.Equal(t, []protocol.MessageType{
		protocol.TypeClientIdentified,
		protocol.TypeRoleAssigned,
		protocol.TypeChatMessage,
		protocol.TypeGameStateUpdate,
	}, f.Types())
}

func TestLobby_PresenceUpdatesDuringGame(t *testing.T) {
	l := newTestLobby(t, config(4, 8, slowRules()), Deps{})
	outs := seat(t, l, 4)
	ctx := context.Background()
	require.NoError(t, l.Start(ctx, "p1"))
	for _, ch := range outs {
		recvFrame(t, ch, 100*time.Millisecond)
	}

	connectedOf := func(s engine.Snapshot, id string) bool {
		for _, p := range s.Players {
			if p.ID == id {
				return p.Connected
			}
		}
		t.Fatalf("snapshot has no %s", id)
		return false
	}

	require.NoError(t, l.Detach(ctx, "p2", "conn-p2"))
	f := recvFrame(t, outs["p1"], 100*time.Millisecond)
	require.Equal(t, []protocol.MessageType{protocol.TypeGameStateUpdate}, f.Types())
	assert.False(t, connectedOf(payloadOf[engine.Snapshot](t, f, protocol.TypeGameStateUpdate), "p2"))

	back := make(chan protocol.Frame, 8)
	require.NoError(t, l.Attach(ctx, "p2", "conn-p2b", back))
	f = recvFrame(t, outs["p1"], 100*time.Millisecond)
	assert.True(t, connectedOf(payloadOf[engine.Snapshot](t, f, protocol.TypeGameStateUpdate), "p2"))

	recvFrame(t, back, 100*time.Millisecond)
	recvNoFrame(t, back, 30*time.Millisecond)
}

func TestLobby_DroppedWhileAnsweringCountsAsDisconnect(t *testing.T) {
	l := newTestLobby(t, config(4, 8, slowRules()), Deps{})
	ctx := context.Background()

	out := make(chan protocol.Frame, 1)
	require.NoError(t, l.Attach(ctx, "p1", "c1", out))

	// The attach frame fills the outbox, so the error reply cannot be queued.
	require.NoError(t, l.Post(ctx, FromClient{PlayerID: "p1", Cmd: engine.Command{Type: engine.CmdChat, Text: "hi"}}))

	v, err := l.State(ctx)
	require.NoError(t, err)
	assert.Empty(t, v.Connected)
	s, err := l.Summary(ctx)
	require.NoError(t, err)
	assert.False(t, s.IdleSince.IsZero())
}
