// Package hub is the lobby manager: it owns the lobby table and exposes the
// create/join/start/list operations used by the request surface.
package hub

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xjhc/alignment/internal/apperr"
	"github.com/xjhc/alignment/internal/lobby"
	"github.com/xjhc/alignment/internal/session"
)

var (
	ErrLobbyNotFound = apperr.New(apperr.CodeNotFound, "lobby not found")
	ErrHubClosed     = apperr.New(apperr.CodeInternal, "server is shutting down")
)

type HubMsg interface{ isHubMsg() }

type AddLobby struct {
	Lobby *lobby.Lobby
	Reply chan error
}

type GetLobby struct {
	ID    string
	Reply chan *lobby.Lobby
}

// ListLobbies replies with the lobbies in creation order.
type ListLobbies struct {
	Reply chan []*lobby.Lobby
}

type RemoveLobby struct {
	ID    string
	Reply chan *lobby.Lobby
}

type ShutdownHub struct{}

func (AddLobby) isHubMsg()    {}
func (GetLobby) isHubMsg()    {}
func (ListLobbies) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}

type Config struct {
	Lobby lobby.Config
	// IdleTTL removes WAITING and ACTIVE lobbies nobody has been attached to
	// for this long.
	IdleTTL time.Duration
	// ClosedTTL removes finished lobbies.
	ClosedTTL     time.Duration
	SweepInterval time.Duration
}

type Hub struct {
	inbox    chan HubMsg
	lobbies  map[string]*lobby.Lobby
	order    []string
	cfg      Config
	sessions *session.Store
	deps     lobby.Deps
	log      *zap.Logger
	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  chan struct{}
}

// NewHub starts the hub goroutine and, when cfg.SweepInterval is set, the
// stale lobby sweeper. deps is handed to every lobby.
func NewHub(parent context.Context, cfg Config, sessions *session.Store, deps lobby.Deps) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		lobbies:  make(map[string]*lobby.Lobby),
		cfg:      cfg,
		sessions: sessions,
		deps:     deps,
		log:      deps.Logger.Named("hub"),
		now:      now,
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}
	go h.loop()
	if cfg.SweepInterval > 0 {
		go h.sweeper(cfg.SweepInterval)
	}
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub and all of its lobbies have stopped.
func (h *Hub) Done() <-chan struct{} { return h.stopped }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case AddLobby:
				h.lobbies[msg.Lobby.ID()] = msg.Lobby
				h.order = append(h.order, msg.Lobby.ID())
				msg.Reply <- nil

			case GetLobby:
				msg.Reply <- h.lobbies[msg.ID] // May be nil

			case ListLobbies:
				out := make([]*lobby.Lobby, 0, len(h.order))
				for _, id := range h.order {
					out = append(out, h.lobbies[id])
				}
				msg.Reply <- out

			case RemoveLobby:
				lb := h.lobbies[msg.ID]
				if lb != nil {
					delete(h.lobbies, msg.ID)
					for i, id := range h.order {
						if id == msg.ID {
							h.order = append(h.order[:i], h.order[i+1:]...)
							break
						}
					}
				}
				msg.Reply <- lb

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for id, lb := range h.lobbies {
		lb.Shutdown()
		h.sessions.Revoke(id)
	}
	clear(h.lobbies)
	h.order = nil
	h.cancel()
	close(h.stopped)
}

// Shutdown stops every lobby and the hub itself.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
	<-h.stopped
}

func ask[T any](ctx context.Context, h *Hub, m HubMsg, reply chan T) (T, error) {
	var zero T
	select {
	case h.inbox <- m:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.ctx.Done():
		return zero, ErrHubClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.ctx.Done():
		return zero, ErrHubClosed
	}
}

// Lobby looks up a lobby by id.
func (h *Hub) Lobby(ctx context.Context, id string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	lb, err := ask(ctx, h, GetLobby{ID: id, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if lb == nil {
		return nil, ErrLobbyNotFound
	}
	return lb, nil
}

func (h *Hub) list(ctx context.Context) ([]*lobby.Lobby, error) {
	reply := make(chan []*lobby.Lobby, 1)
	return ask(ctx, h, ListLobbies{Reply: reply}, reply)
}

// remove drops the lobby from the table, stops it and revokes its
// credentials.
func (h *Hub) remove(ctx context.Context, id string) error {
	reply := make(chan *lobby.Lobby, 1)
	lb, err := ask(ctx, h, RemoveLobby{ID: id, Reply: reply}, reply)
	if err != nil {
		return err
	}
	if lb == nil {
		return ErrLobbyNotFound
	}
	lb.Shutdown()
	h.sessions.Revoke(id)
	return nil
}

// summaries asks every lobby for its summary. Lobbies that stop in the
// meantime are skipped.
func (h *Hub) summaries(ctx context.Context) ([]lobby.Summary, error) {
	lobbies, err := h.list(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]lobby.Summary, 0, len(lobbies))
	for _, lb := range lobbies {
		s, err := lb.Summary(ctx)
		if errors.Is(err, lobby.ErrLobbyClosed) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
