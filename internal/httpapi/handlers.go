package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xjhc/alignment/internal/apperr"
	"github.com/xjhc/alignment/internal/archive"
	"github.com/xjhc/alignment/internal/hub"
	"github.com/xjhc/alignment/internal/lobby"
)

const maxBodyBytes = 4 << 10

var ErrBadBody = apperr.New(apperr.CodeInvalidInput, "request body must be a JSON object")

type createGameRequest struct {
	LobbyName    string `json:"lobby_name"`
	PlayerName   string `json:"player_name"`
	PlayerAvatar string `json:"player_avatar"`
}

type joinGameRequest struct {
	PlayerName   string `json:"player_name"`
	PlayerAvatar string `json:"player_avatar"`
}

type errorBody struct {
	Error struct {
		Code    apperr.Code `json:"code"`
		Message string      `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var body errorBody
	body.Error.Code = apperr.CodeOf(err)
	body.Error.Message = apperr.MessageOf(err)
	writeJSON(w, body.Error.Code.HTTPStatus(), body)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.CodeInvalidInput, ErrBadBody.Message, err)
	}
	return nil
}

func CreateGame(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createGameRequest
		if err := decode(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		creds, err := h.CreateLobby(r.Context(), req.LobbyName, req.PlayerName, req.PlayerAvatar)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, creds)
	}
}

func JoinGame(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req joinGameRequest
		if err := decode(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		creds, err := h.JoinLobby(r.Context(), chi.URLParam(r, "gameId"), req.PlayerName, req.PlayerAvatar)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, creds)
	}
}

func ListGames(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sums, err := h.ListLobbies(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if sums == nil {
			sums = []lobby.Summary{}
		}
		writeJSON(w, http.StatusOK, struct {
			Lobbies []lobby.Summary `json:"lobbies"`
		}{Lobbies: sums})
	}
}

type historyPlayer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Alignment string `json:"alignment"`
	Survived  bool   `json:"survived"`
}

type historyGame struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	WinningFaction string          `json:"winning_faction"`
	Condition      string          `json:"condition"`
	Rounds         int             `json:"rounds"`
	EndedAt        string          `json:"ended_at"`
	Players        []historyPlayer `json:"players"`
}

func GameHistory(a archive.Archiver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 100 {
				writeError(w, apperr.New(apperr.CodeInvalidInput, "limit must be between 1 and 100"))
				return
			}
			limit = n
		}

		recs, err := a.Recent(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		games := make([]historyGame, len(recs))
		for i, rec := range recs {
			g := historyGame{
				ID:             rec.ID,
				Name:           rec.LobbyName,
				WinningFaction: rec.WinningFaction,
				Condition:      rec.Condition,
				Rounds:         rec.Rounds,
				EndedAt:        rec.EndedAt.UTC().Format(time.RFC3339),
				Players:        make([]historyPlayer, len(rec.Players)),
			}
			for j, p := range rec.Players {
				g.Players[j] = historyPlayer{ID: p.PlayerID, Name: p.Name, Role: p.Role, Alignment: p.Alignment, Survived: p.Survived}
			}
			games[i] = g
		}
		writeJSON(w, http.StatusOK, struct {
			Games []historyGame `json:"games"`
		}{Games: games})
	}
}

func GetStats(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := h.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
