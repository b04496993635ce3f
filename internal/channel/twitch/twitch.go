// Package twitch reads and writes Twitch chat over the IRC WebSocket gateway.
// Tags are requested so that badges, subscription months and first-message
// flags become author roles.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/cortex-attention/internal/channel"
)

const (
	SourceName = "twitch"
	DefaultURL = "wss://irc-ws.chat.twitch.tv:443"
)

// Config configures the adapter.
type Config struct {
	URL      string   `mapstructure:"url" yaml:"url"`
	Nick     string   `mapstructure:"nick" yaml:"nick"`
	Token    string   `mapstructure:"token" yaml:"token"`
	Channels []string `mapstructure:"channels" yaml:"channels"`
}

// Adapter is one IRC connection joined to every configured channel.
type Adapter struct {
	channel.Base

	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
}

// New returns an unconnected adapter.
func New(cfg Config, logger zerolog.Logger) *Adapter {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	return &Adapter{
		Base:   channel.NewBase(SourceName),
		cfg:    cfg,
		logger: logger.With().Str("source", SourceName).Logger(),
		now:    time.Now,
	}
}

// Connect dials the gateway, authenticates and joins the channels.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.cfg.Nick == "" {
		return errors.New("twitch: nick is required")
	}
	if len(a.cfg.Channels) == 0 {
		return errors.New("twitch: at least one channel is required")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("twitch: dial: %w", err)
	}

	login := []string{"CAP REQ :twitch.tv/tags twitch.tv/commands"}
	if a.cfg.Token != "" {
		login = append(login, "PASS oauth:"+strings.TrimPrefix(a.cfg.Token, "oauth:"))
	}
	login = append(login, "NICK "+strings.ToLower(a.cfg.Nick))
	for _, ch := range a.cfg.Channels {
		login = append(login, "JOIN #"+strings.ToLower(strings.TrimPrefix(ch, "#")))
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	for _, line := range login {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line+"\r\n")); err != nil {
			conn.Close()
			return fmt.Errorf("twitch: login: %w", err)
		}
	}
	_ = conn.SetWriteDeadline(time.Time{})

	done := make(chan struct{})
	a.mu.Lock()
	a.conn = conn
	a.done = done
	a.mu.Unlock()
	a.SetConnected(true)

	go a.readLoop(conn, done)
	a.logger.Info().Strs("channels", a.cfg.Channels).Msg("Twitch adapter connected")
	return nil
}

func (a *Adapter) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer a.SetConnected(false)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) {
				a.logger.Warn().Err(err).Msg("Twitch read loop ended")
			}
			return
		}
		for _, line := range strings.Split(string(data), "\n") {
			a.handleLine(conn, line)
		}
	}
}

func (a *Adapter) handleLine(conn *websocket.Conn, line string) {
	m, ok := parseIRC(line)
	if !ok {
		return
	}
	switch m.Command {
	case "PING":
		if err := a.write(conn, "PONG :"+m.Trailing()); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to answer PING")
		}
	case "PRIVMSG":
		if strings.EqualFold(m.Nick(), a.cfg.Nick) {
			return
		}
		a.Deliver(toMessage(m, a.now()))
	case "RECONNECT":
		a.logger.Info().Msg("Twitch requested reconnect")
		conn.Close()
	case "NOTICE":
		a.logger.Info().Str("notice", m.Trailing()).Msg("Twitch notice")
	}
}

func (a *Adapter) write(conn *websocket.Conn, line string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte(line+"\r\n"))
}

// Disconnect closes the socket and waits for the read loop.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	conn, done := a.conn, a.done
	a.conn, a.done = nil, nil
	a.mu.Unlock()

	a.SetConnected(false)
	if conn == nil {
		return nil
	}
	a.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	a.writeMu.Unlock()
	conn.Close()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send posts text to a channel, without the leading '#'.
func (a *Adapter) Send(ctx context.Context, text, ch string) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil || !a.IsConnected() {
		return channel.ErrNotConnected
	}
	if ch == "" && len(a.cfg.Channels) > 0 {
		ch = a.cfg.Channels[0]
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	text = strings.NewReplacer("\r", " ", "\n", " ").Replace(text)
	line := fmt.Sprintf("PRIVMSG #%s :%s", strings.ToLower(strings.TrimPrefix(ch, "#")), text)
	if err := a.write(conn, line); err != nil {
		return fmt.Errorf("twitch: send: %w", err)
	}
	return nil
}
