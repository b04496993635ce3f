// Package webchat serves a WebSocket endpoint that browser clients use to
// chat with the persona directly.
package webchat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/cortex-attention/internal/channel"
	"github.com/normanking/cortex-attention/internal/chat"
)

const SourceName = "webchat"

// Broadcast as the Send channel addresses every connected client.
const Broadcast = "*"

// Config configures the adapter.
type Config struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	Path string `mapstructure:"path" yaml:"path"`
}

// Frame is the JSON envelope exchanged with clients.
type Frame struct {
	Type       string   `json:"type"`
	ID         string   `json:"id,omitempty"`
	Content    string   `json:"content"`
	UserID     string   `json:"user_id,omitempty"`
	Name       string   `json:"name,omitempty"`
	Subscriber bool     `json:"subscriber,omitempty"`
	Moderator  bool     `json:"moderator,omitempty"`
	Mentions   []string `json:"mentions,omitempty"`
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	seen    bool
}

func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

// Adapter is the WebSocket server. Each connection is a user; the user ID is
// taken from the user_id query parameter or generated.
type Adapter struct {
	channel.Base

	cfg      Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	clients  map[string]*client
}

// New returns an adapter that is not yet listening.
func New(cfg Config, logger zerolog.Logger) *Adapter {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	return &Adapter{
		Base:   channel.NewBase(SourceName),
		cfg:    cfg,
		logger: logger.With().Str("source", SourceName).Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Connect starts listening.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.cfg.Addr == "" {
		return errors.New("webchat: addr is required")
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Addr)
	if err != nil {
		return fmt.Errorf("webchat: listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Path, a.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	a.mu.Lock()
	a.server = srv
	a.listener = ln
	a.mu.Unlock()
	a.SetConnected(true)

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("Webchat server stopped")
			a.SetConnected(false)
		}
	}()
	a.logger.Info().Str("addr", ln.Addr().String()).Str("path", a.cfg.Path).Msg("Webchat adapter listening")
	return nil
}

// Addr returns the bound address, or "" before Connect.
func (a *Adapter) Addr() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Disconnect stops the server and closes every client.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	srv := a.server
	a.server, a.listener = nil, nil
	clients := a.clients
	a.clients = make(map[string]*client)
	a.mu.Unlock()

	a.SetConnected(false)
	for _, c := range clients {
		c.conn.Close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Send writes a response frame to one user, or to everyone when ch is
// Broadcast or empty.
func (a *Adapter) Send(ctx context.Context, text, ch string) error {
	if !a.IsConnected() {
		return channel.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	frame := Frame{Type: "response", ID: uuid.NewString(), Content: text}

	a.mu.RLock()
	var targets []*client
	if ch == "" || ch == Broadcast {
		for _, c := range a.clients {
			targets = append(targets, c)
		}
	} else if c, ok := a.clients[ch]; ok {
		targets = append(targets, c)
	}
	a.mu.RUnlock()

	if len(targets) == 0 {
		return fmt.Errorf("webchat: no client %q", ch)
	}
	var errs []error
	for _, c := range targets {
		if err := c.writeJSON(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handler upgrades requests and reads client frames.
func (a *Adapter) Handler() http.Handler {
	return http.HandlerFunc(a.serveWS)
}

func (a *Adapter) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "web-" + uuid.NewString()
	}
	c := &client{conn: conn}

	a.mu.Lock()
	if old, ok := a.clients[userID]; ok {
		old.conn.Close()
	}
	a.clients[userID] = c
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		if a.clients[userID] == c {
			delete(a.clients, userID)
		}
		a.mu.Unlock()
		conn.Close()
	}()

	_ = c.writeJSON(Frame{Type: "welcome", UserID: userID})

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Debug().Err(err).Str("user_id", userID).Msg("WebSocket read ended")
			}
			return
		}
		if f.Type != "message" {
			continue
		}
		a.Deliver(c.toMessage(userID, f))
	}
}

func (c *client) toMessage(userID string, f Frame) *chat.Message {
	name := f.Name
	if name == "" {
		name = userID
	}
	msg := &chat.Message{
		ID:      uuid.NewString(),
		Source:  SourceName,
		Channel: userID,
		Author: chat.Author{
			ID:          userID,
			DisplayName: name,
			Roles: chat.Roles{
				Subscriber: f.Subscriber,
				Moderator:  f.Moderator,
				FirstTime:  !c.seen,
			},
		},
		Text:      f.Content,
		Mentions:  f.Mentions,
		Links:     channel.ExtractLinks(f.Content),
		ArrivedAt: time.Now(),
	}
	c.seen = true
	return msg
}
