package hub

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/xjhc/alignment/internal/apperr"
	"github.com/xjhc/alignment/internal/lobby"
	"github.com/xjhc/alignment/internal/session"
)

const (
	MaxNameLength   = 32
	MaxAvatarLength = 64
)

var (
	ErrLobbyNameRequired  = apperr.New(apperr.CodeInvalidInput, "lobby name is required")
	ErrPlayerNameRequired = apperr.New(apperr.CodeInvalidInput, "player name is required")
	ErrNameTooLong        = apperr.New(apperr.CodeInvalidInput, "name is too long")
	ErrAvatarTooLong      = apperr.New(apperr.CodeInvalidInput, "avatar is too long")
)

// Credentials is what a client needs to open its realtime channel.
type Credentials struct {
	LobbyID    string `json:"game_id"`
	PlayerID   string `json:"player_id"`
	Credential string `json:"session_token"`
}

type Stats struct {
	Lobbies     int `json:"lobbies"`
	Waiting     int `json:"waiting"`
	Active      int `json:"active"`
	Closed      int `json:"closed"`
	Players     int `json:"players"`
	Connections int `json:"connections"`
}

// normalize returns s in NFC form with surrounding space removed.
func normalize(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

func cleanName(s string, required error) (string, error) {
	s = normalize(s)
	if s == "" {
		return "", required
	}
	if utf8.RuneCountInString(s) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return s, nil
}

func cleanAvatar(s string) (string, error) {
	s = normalize(s)
	if utf8.RuneCountInString(s) > MaxAvatarLength {
		return "", ErrAvatarTooLong
	}
	return s, nil
}

func cleanPlayer(name, avatar string) (lobby.Player, error) {
	n, err := cleanName(name, ErrPlayerNameRequired)
	if err != nil {
		return lobby.Player{}, err
	}
	a, err := cleanAvatar(avatar)
	if err != nil {
		return lobby.Player{}, err
	}
	return lobby.Player{ID: session.NewID(), Name: n, Avatar: a}, nil
}

// CreateLobby opens a new WAITING lobby hosted by a fresh player. Every call
// creates a new lobby.
func (h *Hub) CreateLobby(ctx context.Context, name, hostName, hostAvatar string) (Credentials, error) {
	lobbyName, err := cleanName(name, ErrLobbyNameRequired)
	if err != nil {
		return Credentials{}, err
	}
	host, err := cleanPlayer(hostName, hostAvatar)
	if err != nil {
		return Credentials{}, err
	}

	id := session.NewID()
	cred, err := h.sessions.Issue(id, host.ID)
	if err != nil {
		return Credentials{}, apperr.Wrap(apperr.CodeInternal, "issue credential", err)
	}

	lb := lobby.New(h.ctx, lobby.Info{ID: id, Name: lobbyName, Host: host}, h.cfg.Lobby, h.deps)
	reply := make(chan error, 1)
	if _, err := ask(ctx, h, AddLobby{Lobby: lb, Reply: reply}, reply); err != nil {
		lb.Shutdown()
		h.sessions.Revoke(id)
		return Credentials{}, err
	}

	h.log.Info("lobby created", zap.String("lobby_id", id), zap.String("host_id", host.ID))
	return Credentials{LobbyID: id, PlayerID: host.ID, Credential: cred}, nil
}

// JoinLobby appends a fresh player to a WAITING lobby.
func (h *Hub) JoinLobby(ctx context.Context, lobbyID, name, avatar string) (Credentials, error) {
	p, err := cleanPlayer(name, avatar)
	if err != nil {
		return Credentials{}, err
	}
	lb, err := h.Lobby(ctx, lobbyID)
	if err != nil {
		return Credentials{}, err
	}

	// A seat is only taken once its credential exists.
	cred, err := h.sessions.Issue(lobbyID, p.ID)
	if err != nil {
		return Credentials{}, apperr.Wrap(apperr.CodeInternal, "issue credential", err)
	}
	if err := lb.Join(ctx, p); err != nil {
		h.sessions.Forget(lobbyID, p.ID)
		return Credentials{}, err
	}
	return Credentials{LobbyID: lobbyID, PlayerID: p.ID, Credential: cred}, nil
}

// StartGame starts the game of lobbyID on behalf of requesterID.
func (h *Hub) StartGame(ctx context.Context, lobbyID, requesterID string) error {
	lb, err := h.Lobby(ctx, lobbyID)
	if err != nil {
		return err
	}
	return lb.Start(ctx, requesterID)
}

// ListLobbies returns lobby summaries in creation order.
func (h *Hub) ListLobbies(ctx context.Context) ([]lobby.Summary, error) {
	return h.summaries(ctx)
}

// Authenticate checks a connection's credential and returns its lobby.
func (h *Hub) Authenticate(ctx context.Context, lobbyID, playerID, credential string) (*lobby.Lobby, error) {
	if err := h.sessions.Validate(lobbyID, playerID, credential); err != nil {
		return nil, err
	}
	return h.Lobby(ctx, lobbyID)
}

func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	sums, err := h.summaries(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Lobbies: len(sums)}
	for _, s := range sums {
		switch s.Status {
		case lobby.StatusWaiting:
			st.Waiting++
		case lobby.StatusActive:
			st.Active++
		case lobby.StatusClosed:
			st.Closed++
		}
		st.Players += s.PlayerCount
		st.Connections += s.Connected
	}
	return st, nil
}

// Sweep retires finished lobbies older than ClosedTTL and lobbies, waiting
// or mid-game, left without connections for IdleTTL. Each lobby decides and
// stops itself in one step; the hub then forgets it. It returns how many
// were removed.
func (h *Hub) Sweep(ctx context.Context, now time.Time) (int, error) {
	lobbies, err := h.list(ctx)
	if err != nil {
		return 0, err
	}
	ttls := lobby.TTLs{Idle: h.cfg.IdleTTL, Closed: h.cfg.ClosedTTL}
	removed := 0
	for _, lb := range lobbies {
		retired, err := lb.Retire(ctx, now, ttls)
		if err != nil {
			return removed, err
		}
		if !retired {
			continue
		}
		if err := h.remove(ctx, lb.ID()); err != nil {
			continue
		}
		removed++
		h.log.Info("stale lobby removed", zap.String("lobby_id", lb.ID()))
	}
	return removed, nil
}

func (h *Hub) sweeper(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(h.ctx, every)
			if _, err := h.Sweep(ctx, h.now()); err != nil && h.ctx.Err() == nil {
				h.log.Warn("sweep failed", zap.Error(err))
			}
			cancel()
		}
	}
}
