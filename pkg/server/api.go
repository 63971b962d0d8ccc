// Package server is the host API: a small HTTP JSON interface for the
// library and the settings, and a websocket control channel for play sessions.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/retroplay/retroplay/pkg/auth"
	"github.com/retroplay/retroplay/pkg/com"
	"github.com/retroplay/retroplay/pkg/library"
	"github.com/retroplay/retroplay/pkg/logger"
	"github.com/retroplay/retroplay/pkg/network/httpx"
	"github.com/retroplay/retroplay/pkg/session"
	"github.com/retroplay/retroplay/pkg/settings"
	"github.com/retroplay/retroplay/pkg/store"
)

// Deps are the app services behind the API.
type Deps struct {
	// Env is the template of every play session.
	Env      session.Env
	Identity *auth.Identity
	Settings *settings.Manager
	// MaxUpload limits the size of uploaded ROM files.
	MaxUpload int64
}

type Api struct {
	deps    Deps
	clients *com.Map[com.Uid, *client]
	log     *logger.Logger
}

type gameInfo struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LastPlayedAt time.Time `json:"lastPlayedAt"`
}

func toGameInfo(g store.Game) gameInfo {
	return gameInfo{ID: g.ID, Title: g.Title, LastPlayedAt: g.LastPlayedAt}
}

func NewApi(deps Deps, log *logger.Logger) *Api {
	if log == nil {
		log = logger.Nop()
	}
	if deps.MaxUpload <= 0 {
		deps.MaxUpload = 128 << 20
	}
	a := &Api{deps: deps, clients: com.NewMap[com.Uid, *client](), log: log.Module("api")}
	deps.Identity.OnChange(func(bool) { a.broadcast(Out{T: "auth", P: a.authInfo()}) })
	return a
}

func (a *Api) Handler() httpx.Handler {
	h := httpx.NewServeMux("")
	h.HandleFunc("GET /api/v1/games", a.listGames)
	h.HandleFunc("POST /api/v1/games", a.addGame)
	h.HandleFunc("DELETE /api/v1/games/{id}", a.removeGame)
	h.HandleFunc("GET /api/v1/settings", a.getSettings)
	h.HandleFunc("PUT /api/v1/settings", a.putSettings)
	h.HandleFunc("GET /ws", a.connect)
	return h
}

// Close disconnects all the control channel clients.
func (a *Api) Close() {
	for _, c := range a.clients.Values() {
		c.ws.Close()
	}
}

func (a *Api) listGames(w http.ResponseWriter, r *http.Request) {
	games, err := a.deps.Env.Library.List(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	list := make([]gameInfo, len(games))
	for i, g := range games {
		list[i] = toGameInfo(g)
	}
	writeJSON(w, http.StatusOK, list)
}

// addGame imports the request body, the name query param is the file name
// of the upload used to detect its type.
func (a *Api) addGame(w http.ResponseWriter, r *http.Request) {
	title, name := r.URL.Query().Get("title"), r.URL.Query().Get("name")
	if name == "" {
		name = title
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.deps.MaxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = library.ErrFileTooLarge
		}
		a.fail(w, err)
		return
	}
	g, err := a.deps.Env.Library.Import(r.Context(), title, name, data)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGameInfo(g))
}

func (a *Api) removeGame(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Env.Library.Remove(r.Context(), r.PathValue("id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Api) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Settings.Get())
}

// putSettings changes only the fields present in the body.
func (a *Api) putSettings(w http.ResponseWriter, r *http.Request) {
	s := a.deps.Settings.Get()
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&s); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s, err := a.deps.Settings.Save(s)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *Api) fail(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		a.log.Error().Err(err).Msg("request failed")
	}
	writeError(w, code, err)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, library.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, library.ErrEmptyROM),
		errors.Is(err, library.ErrNoROMFile),
		errors.Is(err, library.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
