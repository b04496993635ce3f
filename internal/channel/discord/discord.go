// Package discord connects the attention pipeline to Discord guild text
// channels through a bot session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/normanking/cortex-attention/internal/channel"
	"github.com/normanking/cortex-attention/internal/chat"
)

const SourceName = "discord"

// Config configures the adapter.
type Config struct {
	Token string `mapstructure:"token" yaml:"token"`
	// Channels restricts ingestion to these channel IDs. Empty means all.
	Channels []string `mapstructure:"channels" yaml:"channels"`
}

// Adapter is a Discord bot session.
type Adapter struct {
	channel.Base

	cfg     Config
	logger  zerolog.Logger
	allowed map[string]struct{}

	mu      sync.Mutex
	session *discordgo.Session
}

// New returns an unconnected adapter.
func New(cfg Config, logger zerolog.Logger) *Adapter {
	a := &Adapter{
		Base:    channel.NewBase(SourceName),
		cfg:     cfg,
		logger:  logger.With().Str("source", SourceName).Logger(),
		allowed: make(map[string]struct{}, len(cfg.Channels)),
	}
	for _, id := range cfg.Channels {
		a.allowed[id] = struct{}{}
	}
	return a
}

// Connect opens the gateway websocket.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.cfg.Token == "" {
		return errors.New("discord: token is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	session, err := discordgo.New("Bot " + a.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(a.onMessage)
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		a.SetConnected(false)
		a.logger.Warn().Msg("Discord gateway disconnected")
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		a.SetConnected(true)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.mu.Unlock()
	a.SetConnected(true)
	a.logger.Info().Msg("Discord adapter connected")
	return nil
}

// Disconnect closes the session.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	session := a.session
	a.session = nil
	a.mu.Unlock()

	a.SetConnected(false)
	if session == nil {
		return nil
	}
	return session.Close()
}

// Send posts text to a channel ID.
func (a *Adapter) Send(ctx context.Context, text, channelID string) error {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil || !a.IsConnected() {
		return channel.ErrNotConnected
	}
	if _, err := session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	return nil
}

func (a *Adapter) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if len(a.allowed) > 0 {
		if _, ok := a.allowed[m.ChannelID]; !ok {
			return
		}
	}
	a.Deliver(toMessage(s, m))
}

func toMessage(s *discordgo.Session, m *discordgo.MessageCreate) *chat.Message {
	arrived := m.Timestamp
	if arrived.IsZero() {
		arrived = time.Now()
	}

	author := chat.Author{
		ID:          m.Author.ID,
		DisplayName: m.Author.Username,
	}
	if m.Member != nil {
		if m.Member.Nick != "" {
			author.DisplayName = m.Member.Nick
		}
		author.Roles.Subscriber = m.Member.PremiumSince != nil
		if !m.Member.JoinedAt.IsZero() {
			tenure := arrived.Sub(m.Member.JoinedAt)
			author.Tenure = &tenure
		}
	}
	if s != nil && s.State != nil {
		if perms, err := s.State.UserChannelPermissions(m.Author.ID, m.ChannelID); err == nil {
			author.Roles.Moderator = perms&discordgo.PermissionManageMessages != 0
		}
	}

	msg := &chat.Message{
		ID:        m.ID,
		Source:    SourceName,
		Channel:   m.ChannelID,
		Author:    author,
		Text:      m.Content,
		Links:     channel.ExtractLinks(m.Content),
		ArrivedAt: arrived,
	}
	for _, u := range m.Mentions {
		if u != nil {
			msg.Mentions = append(msg.Mentions, u.Username)
		}
	}
	return msg
}
