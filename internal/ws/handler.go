// Package ws serves the realtime channel: one websocket per attached player.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xjhc/alignment/internal/apperr"
	"github.com/xjhc/alignment/internal/lobby"
	"github.com/xjhc/alignment/internal/protocol"
	"github.com/xjhc/alignment/internal/session"
)

var (
	ErrMissingParams = apperr.New(apperr.CodeInvalidInput, "gameId, playerId and sessionToken are required")

	// errOutboxClosed means the lobby let go of this connection: it was
	// replaced, dropped as slow, or the lobby stopped.
	errOutboxClosed = errors.New("outbox closed")
)

// Authenticator resolves a connection's credential to its lobby.
type Authenticator interface {
	Authenticate(ctx context.Context, lobbyID, playerID, credential string) (*lobby.Lobby, error)
}

type Options struct {
	OriginPatterns []string
	OutboxSize     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	Logger         *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.OutboxSize <= 0 {
		o.OutboxSize = 16
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func Handler(auth Authenticator, opts Options) http.HandlerFunc {
	opts = opts.withDefaults()
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		lobbyID, playerID, cred := q.Get("gameId"), q.Get("playerId"), q.Get("sessionToken")
		if lobbyID == "" || playerID == "" || cred == "" {
			http.Error(w, ErrMissingParams.Message, ErrMissingParams.Code.HTTPStatus())
			return
		}

		lb, err := auth.Authenticate(r.Context(), lobbyID, playerID, cred)
		if err != nil {
			http.Error(w, apperr.MessageOf(err), apperr.CodeOf(err).HTTPStatus())
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			opts.Logger.Debug("websocket accept failed", zap.Error(err))
			return
		}

		c := &client{
			conn:     conn,
			lobby:    lb,
			playerID: playerID,
			connID:   session.NewID(),
			opts:     opts,
			log:      opts.Logger.With(zap.String("lobby_id", lobbyID), zap.String("player_id", playerID)),
		}
		c.serve(r.Context())
	}
}

type client struct {
	conn     *websocket.Conn
	lobby    *lobby.Lobby
	playerID string
	connID   string
	opts     Options
	log      *zap.Logger
}

func (c *client) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	out := make(chan protocol.Frame, c.opts.OutboxSize)
	if err := c.lobby.Attach(ctx, c.playerID, c.connID, out); err != nil {
		c.conn.Close(websocket.StatusPolicyViolation, apperr.MessageOf(err))
		return
	}
	c.log.Debug("connection attached")
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), time.Second)
		defer dcancel()
		_ = c.lobby.Detach(dctx, c.playerID, c.connID)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(gctx, out) })
	g.Go(func() error { return c.readLoop(gctx) })
	if c.opts.PingInterval > 0 {
		g.Go(func() error { return c.pingLoop(gctx) })
	}

	err := g.Wait()
	switch {
	case errors.Is(err, errOutboxClosed):
		c.log.Debug("connection released by lobby")
	case err == nil,
		websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
		c.conn.Close(websocket.StatusNormalClosure, "")
	default:
		c.log.Debug("connection ended", zap.Error(err))
		c.conn.Close(websocket.StatusInternalError, "")
	}
}

// writeLoop drains the outbox; each frame is one websocket message.
func (c *client) writeLoop(ctx context.Context, out <-chan protocol.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-out:
			if !ok {
				// Close before returning so the peer sees the status code
				// rather than a dropped socket.
				c.conn.Close(websocket.StatusPolicyViolation, "connection superseded")
				return errOutboxClosed
			}
			if err := c.write(ctx, f); err != nil {
				return err
			}
		}
	}
}

func (c *client) write(ctx context.Context, f protocol.Frame) error {
	payload, err := f.Encode()
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, payload)
}

func (c *client) readLoop(ctx context.Context) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}

		msgs, err := protocol.DecodeInbound(data)
		for _, in := range msgs {
			if derr := c.dispatch(ctx, in); derr != nil {
				return derr
			}
		}
		if err != nil {
			if werr := c.write(ctx, protocol.Frame{protocol.ErrorMessage(err, "")}); werr != nil {
				return werr
			}
		}
	}
}

// dispatch forwards one inbound envelope to the lobby. Only a stopped lobby
// or a failed write ends the connection.
func (c *client) dispatch(ctx context.Context, in protocol.Inbound) error {
	var msg lobby.Msg
	switch in.Type {
	case protocol.TypeStartGame:
		msg = lobby.Start{RequesterID: c.playerID}
	default:
		cmd, err := in.Command(c.playerID)
		if err != nil {
			return c.write(ctx, protocol.Frame{protocol.ErrorMessage(err, in.Type)})
		}
		msg = lobby.FromClient{PlayerID: c.playerID, Cmd: cmd}
	}
	return c.lobby.Post(ctx, msg)
}

func (c *client) pingLoop(ctx context.Context) error {
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
