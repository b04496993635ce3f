// Package slack ingests channel messages from a Slack workspace over Socket
// Mode and posts replies with the Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/normanking/cortex-attention/internal/channel"
	"github.com/normanking/cortex-attention/internal/chat"
)

const SourceName = "slack"

// Config configures the adapter.
type Config struct {
	// Token is the bot token (xoxb-).
	Token string `mapstructure:"token" yaml:"token"`
	// AppToken is the app-level token (xapp-) required by Socket Mode.
	AppToken string `mapstructure:"app_token" yaml:"app_token"`
}

// Adapter is a Socket Mode connection.
type Adapter struct {
	channel.Base

	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	client  *slack.Client
	socket  *socketmode.Client
	cancel  context.CancelFunc
	done    chan struct{}
	botID   string
	botName string
	admins  map[string]bool
}

// New returns an unconnected adapter.
func New(cfg Config, logger zerolog.Logger) *Adapter {
	return &Adapter{
		Base:   channel.NewBase(SourceName),
		cfg:    cfg,
		logger: logger.With().Str("source", SourceName).Logger(),
		admins: make(map[string]bool),
	}
}

// Connect verifies the bot token and starts Socket Mode.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.cfg.Token == "" {
		return errors.New("slack: bot token is required")
	}
	if a.cfg.AppToken == "" {
		return errors.New("slack: app token is required for socket mode")
	}

	client := slack.New(a.cfg.Token, slack.OptionAppLevelToken(a.cfg.AppToken))
	auth, err := client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	socket := socketmode.New(client, socketmode.OptionDebug(false))

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.mu.Lock()
	a.client, a.socket = client, socket
	a.cancel, a.done = cancel, done
	a.botID, a.botName = auth.UserID, auth.User
	a.mu.Unlock()

	go a.handleEvents(runCtx, socket)
	go func() {
		defer close(done)
		if err := socket.RunContext(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error().Err(err).Msg("Socket Mode stopped")
		}
		a.SetConnected(false)
	}()

	a.SetConnected(true)
	a.logger.Info().Str("bot", auth.User).Str("team", auth.Team).Msg("Slack adapter connected")
	return nil
}

// Disconnect stops Socket Mode.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.client, a.socket = nil, nil
	a.mu.Unlock()

	a.SetConnected(false)
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send posts text to a channel ID.
func (a *Adapter) Send(ctx context.Context, text, channelID string) error {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil || !a.IsConnected() {
		return channel.ErrNotConnected
	}
	if _, _, err := client.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func (a *Adapter) handleEvents(ctx context.Context, socket *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-socket.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				ev, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if evt.Request != nil {
					socket.Ack(*evt.Request)
				}
				if ev.Type != slackevents.CallbackEvent {
					continue
				}
				if me, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent); ok {
					a.onMessage(ctx, me)
				}
			case socketmode.EventTypeConnected:
				a.SetConnected(true)
			case socketmode.EventTypeConnectionError:
				a.SetConnected(false)
				a.logger.Warn().Msg("Slack connection error")
			}
		}
	}
}

func (a *Adapter) onMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if ev.BotID != "" || ev.SubType != "" || ev.User == "" {
		return
	}
	a.mu.Lock()
	botID, botName := a.botID, a.botName
	a.mu.Unlock()

	msg := toMessage(ev, botID, botName)
	msg.Author.Roles.Moderator = a.isAdmin(ctx, ev.User)
	a.Deliver(msg)
}

func (a *Adapter) isAdmin(ctx context.Context, userID string) bool {
	a.mu.Lock()
	admin, cached := a.admins[userID]
	client := a.client
	a.mu.Unlock()
	if cached || client == nil {
		return admin
	}

	user, err := client.GetUserInfoContext(ctx, userID)
	if err != nil {
		a.logger.Debug().Err(err).Str("user", userID).Msg("User lookup failed")
		return false
	}
	admin = user.IsAdmin || user.IsOwner

	a.mu.Lock()
	a.admins[userID] = admin
	a.mu.Unlock()
	return admin
}

var (
	userMention = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]*)?>`)
	linkMarkup  = regexp.MustCompile(`<(https?://[^|>]+)(?:\|[^>]*)?>`)
)

func toMessage(ev *slackevents.MessageEvent, botID, botName string) *chat.Message {
	msg := &chat.Message{
		ID:      ev.Channel + ":" + ev.TimeStamp,
		Source:  SourceName,
		Channel: ev.Channel,
		Author:  chat.Author{ID: ev.User, DisplayName: ev.User},
		Text:    ev.Text,
	}
	for _, m := range userMention.FindAllStringSubmatch(ev.Text, -1) {
		name := m[1]
		if name == botID && botName != "" {
			name = botName
		}
		msg.Mentions = append(msg.Mentions, name)
	}
	for _, m := range linkMarkup.FindAllStringSubmatch(ev.Text, -1) {
		msg.Links = append(msg.Links, m[1])
	}
	if botName != "" {
		msg.Text = strings.ReplaceAll(msg.Text, "<@"+botID+">", "@"+botName)
	}
	msg.ArrivedAt = parseTS(ev.TimeStamp)
	return msg
}

// parseTS converts a Slack "seconds.micros" timestamp.
func parseTS(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Now()
	}
	var us int64
	if frac != "" {
		us, _ = strconv.ParseInt((frac + "000000")[:6], 10, 64)
	}
	return time.Unix(s, us*int64(time.Microsecond))
}
