package telegram

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortex-attention/internal/channel"
)

func TestToMessage(t *testing.T) {
	text := "héllo @cortex_bot see https://x.dev ok"
	m := &tgbotapi.Message{
		MessageID: 42,
		From:      &tgbotapi.User{ID: 7, FirstName: "Ana", LastName: "B"},
		Chat:      &tgbotapi.Chat{ID: -100, Type: "supergroup"},
		Date:      1700000000,
		Text:      text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "mention", Offset: 6, Length: 11},
			{Type: "url", Offset: 22, Length: 13},
			{Type: "text_link", Offset: 0, Length: 5, URL: "https://linked.example"},
		},
	}

	var asked [2]int64
	msg := toMessage(m, func(chatID, userID int64) bool {
		asked = [2]int64{chatID, userID}
		return true
	})

	require.NoError(t, msg.Validate())
	assert.Equal(t, "-100:42", msg.ID)
	assert.Equal(t, "-100", msg.Channel)
	assert.Equal(t, "7", msg.Author.ID)
	assert.Equal(t, "Ana B", msg.Author.DisplayName)
	assert.True(t, msg.Author.Roles.Moderator)
	assert.Equal(t, [2]int64{-100, 7}, asked)
	assert.Equal(t, []string{"cortex_bot"}, msg.Mentions)
	assert.Equal(t, []string{"https://x.dev", "https://linked.example"}, msg.Links)
	assert.Equal(t, time.Unix(1700000000, 0), msg.ArrivedAt)
	assert.Nil(t, msg.Author.Tenure)
}

func TestEntityText_UTF16(t *testing.T) {
	// the emoji is two UTF-16 units
	text := "😀 @bob"
	assert.Equal(t, "@bob", entityText(text, 3, 4))
	assert.Equal(t, "", entityText(text, 5, 10))
}

func TestAdapter_NotConnected(t *testing.T) {
	a := New(Config{}, zerolog.Nop())
	assert.Equal(t, SourceName, a.SourceName())
	assert.ErrorIs(t, a.Send(context.Background(), "hi", "1"), channel.ErrNotConnected)
	assert.Error(t, a.Connect(context.Background()))
	assert.NoError(t, a.Disconnect(context.Background()))
}
