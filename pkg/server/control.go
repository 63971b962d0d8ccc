package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/retroplay/retroplay/pkg/emulator"
	"github.com/retroplay/retroplay/pkg/logger"
	"github.com/retroplay/retroplay/pkg/network/websocket"
	"github.com/retroplay/retroplay/pkg/session"
)

// In is a control message from the host UI.
type In struct {
	T  string          `json:"t"`
	Id string          `json:"id,omitempty"`
	P  json.RawMessage `json:"p,omitempty"`
}

// Out is a reply to some In message with the same t and id,
// or a push message without an id.
type Out struct {
	T  string `json:"t"`
	Id string `json:"id,omitempty"`
	P  any    `json:"p,omitempty"`
	E  string `json:"e,omitempty"`
}

var (
	errNoSession   = errors.New("no game is open")
	errUnknownType = errors.New("unknown message type")
	errUnknownKey  = errors.New("unknown key or button")
)

const callTimeout = 30 * time.Second

type (
	openRq struct {
		Game string `json:"game"`
	}
	keyRq struct {
		Key  string `json:"key"`
		Down bool   `json:"down"`
	}
	buttonRq struct {
		Button  string `json:"button"`
		Pressed bool   `json:"pressed"`
	}
	snapshotRq struct {
		Data []byte `json:"data"`
	}
	saveRq struct {
		Title string `json:"title"`
	}
	// saveRefRq with an empty save id loads the latest save.
	saveRefRq struct {
		Save string `json:"save"`
	}
	loginRq struct {
		Principal string `json:"principal"`
	}
	authInfo struct {
		Authenticated bool   `json:"authenticated"`
		Mode          string `json:"mode"`
	}
	statusInfo struct {
		Status string    `json:"status"`
		Game   *gameInfo `json:"game,omitempty"`
		Frames uint64    `json:"frames"`
		authInfo
	}
)

// client is one control channel connection, it may own a play session.
type client struct {
	api *Api
	ws  *websocket.WS
	log *logger.Logger

	mu   sync.Mutex
	sess *session.Session
}

func (a *Api) connect(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.NewServer(w, r, a.log)
	if err != nil {
		a.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{api: a, ws: ws, log: a.log.Extend(a.log.With().Str("c", ws.Id().Short()))}
	ws.OnMessage = c.handleMessage
	a.clients.Put(ws.Id(), c)
	ws.Listen()
	c.log.Debug().Msg("connected")

	go func() {
		<-ws.Done
		a.clients.Remove(ws.Id())
		c.closeSession()
		c.log.Debug().Msg("disconnected")
	}()
}

func (a *Api) broadcast(out Out) {
	data, err := json.Marshal(out)
	if err != nil {
		a.log.Error().Err(err).Msg("broadcast")
		return
	}
	for _, c := range a.clients.Values() {
		_ = c.ws.Write(data)
	}
}

func (a *Api) authInfo() authInfo {
	return authInfo{
		Authenticated: a.deps.Identity.IsAuthenticated(),
		Mode:          a.deps.Env.Saves.Mode().String(),
	}
}

func (c *client) handleMessage(message []byte, err error) {
	if err != nil {
		return
	}
	var in In
	if err = json.Unmarshal(message, &in); err != nil {
		c.log.Warn().Err(err).Msg("malformed message")
		c.reply(Out{E: fmt.Sprintf("malformed message: %v", err)})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	out := Out{T: in.T, Id: in.Id}
	p, err := c.handle(ctx, in)
	if err != nil {
		c.log.Debug().Err(err).Str("t", in.T).Msg("call failed")
		out.E = err.Error()
	} else {
		out.P = p
	}
	c.reply(out)
}

func (c *client) reply(out Out) {
	data, err := json.Marshal(out)
	if err != nil {
		c.log.Error().Err(err).Msg("reply")
		return
	}
	_ = c.ws.Write(data)
}

func (c *client) handle(ctx context.Context, in In) (any, error) {
	switch in.T {
	case "open":
		var rq openRq
		if err := decode(in.P, &rq); err != nil {
			return nil, err
		}
		return c.open(ctx, rq.Game)
	case "close":
		c.closeSession()
		return c.status(), nil
	case "status":
		return c.status(), nil
	case "allsaves":
		return c.api.deps.Env.Saves.AllSaves(ctx)
	case "login":
		var rq loginRq
		if err := decode(in.P, &rq); err != nil {
			return nil, err
		}
		if rq.Principal == "" {
			return nil, errors.New("empty principal")
		}
		c.api.deps.Identity.SetPrincipal(rq.Principal)
		return c.api.authInfo(), nil
	case "logout":
		c.api.deps.Identity.Clear()
		return c.api.authInfo(), nil
	}

	s := c.session()
	if s == nil {
		if _, ok := sessionCalls[in.T]; ok {
			return nil, errNoSession
		}
		return nil, fmt.Errorf("%w: %v", errUnknownType, in.T)
	}
	call, ok := sessionCalls[in.T]
	if !ok {
		return nil, fmt.Errorf("%w: %v", errUnknownType, in.T)
	}
	return call(ctx, c, s, in.P)
}

type sessionCall func(ctx context.Context, c *client, s *session.Session, p json.RawMessage) (any, error)

var sessionCalls map[string]sessionCall

func init() {
	control := func(fn func(rt *emulator.Runtime) error) sessionCall {
		return func(_ context.Context, c *client, s *session.Session, _ json.RawMessage) (any, error) {
			if err := fn(s.Runtime()); err != nil {
				return nil, err
			}
			return c.status(), nil
		}
	}
	sessionCalls = map[string]sessionCall{
		"start":  control((*emulator.Runtime).Start),
		"pause":  control((*emulator.Runtime).Pause),
		"resume": control((*emulator.Runtime).Resume),
		"reset":  control((*emulator.Runtime).Reset),
		"export": func(_ context.Context, _ *client, s *session.Session, _ json.RawMessage) (any, error) {
			return snapshotRq{Data: s.Runtime().ExportSnapshot()}, nil
		},
		"import": func(_ context.Context, c *client, s *session.Session, p json.RawMessage) (any, error) {
			var rq snapshotRq
			if err := decode(p, &rq); err != nil {
				return nil, err
			}
			s.Runtime().ImportSnapshot(rq.Data)
			return c.status(), nil
		},
		"key": func(_ context.Context, c *client, _ *session.Session, p json.RawMessage) (any, error) {
			var rq keyRq
			if err := decode(p, &rq); err != nil {
				return nil, err
			}
			router := c.api.deps.Env.Router
			if _, ok := router.Map(rq.Key); !ok {
				return nil, fmt.Errorf("%w: %v", errUnknownKey, rq.Key)
			}
			if rq.Down {
				return router.KeyDown(rq.Key), nil
			}
			return router.KeyUp(rq.Key), nil
		},
		"button": func(_ context.Context, c *client, _ *session.Session, p json.RawMessage) (any, error) {
			var rq buttonRq
			if err := decode(p, &rq); err != nil {
				return nil, err
			}
			if _, ok := emulator.ParseButton(rq.Button); !ok {
				return nil, fmt.Errorf("%w: %v", errUnknownKey, rq.Button)
			}
			return c.api.deps.Env.Router.Button(rq.Button, rq.Pressed), nil
		},
		"save": func(ctx context.Context, _ *client, s *session.Session, p json.RawMessage) (any, error) {
			var rq saveRq
			if err := decode(p, &rq); err != nil {
				return nil, err
			}
			return s.Save(ctx, rq.Title)
		},
		"saves": func(ctx context.Context, _ *client, s *session.Session, _ json.RawMessage) (any, error) {
			return s.Saves(ctx)
		},
		"load": func(ctx context.Context, c *client, s *session.Session, p json.RawMessage) (any, error) {
			var rq saveRefRq
			if err := decode(p, &rq); err != nil {
				return nil, err
			}
			if rq.Save == "" {
				return s.LoadLatest(ctx)
			}
			if err := s.Load(ctx, rq.Save); err != nil {
				return nil, err
			}
			return c.status(), nil
		},
		"delete": func(ctx context.Context, _ *client, s *session.Session, p json.RawMessage) (any, error) {
			var rq saveRefRq
			if err := decode(p, &rq); err != nil {
				return nil, err
			}
			if rq.Save == "" {
				return nil, errors.New("empty save id")
			}
			return nil, s.Delete(ctx, rq.Save)
		},
	}
}

// open replaces the current session of the client with a new one.
func (c *client) open(ctx context.Context, gameID string) (any, error) {
	c.closeSession()
	s, err := session.Open(ctx, c.api.deps.Env, gameID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
	return c.status(), nil
}

func (c *client) session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *client) closeSession() {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

func (c *client) status() statusInfo {
	st := statusInfo{Status: emulator.Idle.String(), authInfo: c.api.authInfo()}
	if s := c.session(); s != nil {
		g := toGameInfo(s.Game())
		st.Game = &g
		st.Status = s.Runtime().Status().String()
		st.Frames = s.Runtime().Frames()
	}
	return st
}

func decode(p json.RawMessage, v any) error {
	if len(p) == 0 {
		return nil
	}
	if err := json.Unmarshal(p, v); err != nil {
		return fmt.Errorf("bad payload: %w", err)
	}
	return nil
}
