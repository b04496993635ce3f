// Package telegram ingests group and private chat messages from a Telegram bot
// using long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/normanking/cortex-attention/internal/channel"
	"github.com/normanking/cortex-attention/internal/chat"
)

const SourceName = "telegram"

// Config configures the adapter.
type Config struct {
	Token string `mapstructure:"token" yaml:"token"`
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	// AdminCacheTTL bounds how long a group admin lookup is reused.
	AdminCacheTTL time.Duration `mapstructure:"admin_cache_ttl" yaml:"admin_cache_ttl"`
}

type adminEntry struct {
	admin bool
	at    time.Time
}

// Adapter is a Telegram bot.
type Adapter struct {
	channel.Base

	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	done   chan struct{}
	admins map[string]adminEntry
}

// New returns an unconnected adapter.
func New(cfg Config, logger zerolog.Logger) *Adapter {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60
	}
	if cfg.AdminCacheTTL <= 0 {
		cfg.AdminCacheTTL = 10 * time.Minute
	}
	return &Adapter{
		Base:   channel.NewBase(SourceName),
		cfg:    cfg,
		logger: logger.With().Str("source", SourceName).Logger(),
		admins: make(map[string]adminEntry),
	}
}

// Connect authenticates the bot and starts the update loop.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.cfg.Token == "" {
		return errors.New("telegram: token is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	bot, err := tgbotapi.NewBotAPI(a.cfg.Token)
	if err != nil {
		return fmt.Errorf("telegram: authenticate: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = a.cfg.PollTimeout
	updates := bot.GetUpdatesChan(u)

	done := make(chan struct{})
	a.mu.Lock()
	a.bot = bot
	a.done = done
	a.mu.Unlock()
	a.SetConnected(true)

	go a.loop(bot, updates, done)
	a.logger.Info().Str("bot", bot.Self.UserName).Msg("Telegram adapter connected")
	return nil
}

func (a *Adapter) loop(bot *tgbotapi.BotAPI, updates tgbotapi.UpdatesChannel, done chan struct{}) {
	defer close(done)
	for update := range updates {
		m := update.Message
		if m == nil || m.From == nil || m.From.IsBot {
			continue
		}
		a.Deliver(toMessage(m, func(chatID, userID int64) bool {
			return a.isAdmin(bot, m.Chat, userID)
		}))
	}
}

// Disconnect stops polling and waits for the update loop to exit.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	bot, done := a.bot, a.done
	a.bot, a.done = nil, nil
	a.mu.Unlock()

	a.SetConnected(false)
	if bot == nil {
		return nil
	}
	bot.StopReceivingUpdates()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send posts text to a chat. channelID is the numeric chat ID.
func (a *Adapter) Send(ctx context.Context, text, channelID string) error {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()
	if bot == nil || !a.IsConnected() {
		return channel.ErrNotConnected
	}
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", channelID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

func (a *Adapter) isAdmin(bot *tgbotapi.BotAPI, c *tgbotapi.Chat, userID int64) bool {
	if c == nil || !(c.IsGroup() || c.IsSuperGroup()) {
		return false
	}
	key := strconv.FormatInt(c.ID, 10) + ":" + strconv.FormatInt(userID, 10)

	a.mu.Lock()
	entry, ok := a.admins[key]
	a.mu.Unlock()
	if ok && time.Since(entry.at) < a.cfg.AdminCacheTTL {
		return entry.admin
	}

	member, err := bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: c.ID, UserID: userID},
	})
	if err != nil {
		a.logger.Debug().Err(err).Int64("user_id", userID).Msg("Admin lookup failed")
		return false
	}
	admin := member.IsAdministrator() || member.IsCreator()

	a.mu.Lock()
	a.admins[key] = adminEntry{admin: admin, at: time.Now()}
	a.mu.Unlock()
	return admin
}

func toMessage(m *tgbotapi.Message, isAdmin func(chatID, userID int64) bool) *chat.Message {
	var chatID int64
	if m.Chat != nil {
		chatID = m.Chat.ID
	}
	name := m.From.UserName
	if name == "" {
		name = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	}

	msg := &chat.Message{
		ID:      strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(m.MessageID),
		Source:  SourceName,
		Channel: strconv.FormatInt(chatID, 10),
		Author: chat.Author{
			ID:          strconv.FormatInt(m.From.ID, 10),
			DisplayName: name,
		},
		Text:      m.Text,
		ArrivedAt: time.Unix(int64(m.Date), 0),
	}
	if isAdmin != nil {
		msg.Author.Roles.Moderator = isAdmin(chatID, m.From.ID)
	}

	for _, e := range m.Entities {
		switch {
		case e.IsMention():
			msg.Mentions = append(msg.Mentions, strings.TrimPrefix(entityText(m.Text, e.Offset, e.Length), "@"))
		case e.Type == "text_mention" && e.User != nil:
			msg.Mentions = append(msg.Mentions, e.User.FirstName)
		case e.IsURL():
			msg.Links = append(msg.Links, entityText(m.Text, e.Offset, e.Length))
		case e.IsTextLink():
			msg.Links = append(msg.Links, e.URL)
		}
	}
	return msg
}

// entityText slices text by Telegram's UTF-16 offsets.
func entityText(text string, offset, length int) string {
	units := utf16.Encode([]rune(text))
	if offset < 0 || length < 0 || offset+length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[offset : offset+length]))
}
