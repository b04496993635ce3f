package webchat

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortex-attention/internal/channel"
	"github.com/normanking/cortex-attention/internal/chat"
)

func dial(t *testing.T, a *Adapter, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+a.Addr()+"/ws?user_id="+userID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var welcome Frame
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Equal(t, "welcome", welcome.Type)
	require.Equal(t, userID, welcome.UserID)
	return conn
}

func TestAdapter_RoundTrip(t *testing.T) {
	a := New(Config{Addr: "127.0.0.1:0"}, zerolog.Nop())
	got := make(chan *chat.Message, 4)
	a.RegisterInboundCallback(func(msg *chat.Message) { got <- msg })

	ctx := context.Background()
	require.NoError(t, a.Connect(ctx))
	t.Cleanup(func() { _ = a.Disconnect(ctx) })
	require.True(t, a.IsConnected())

	conn := dial(t, a, "viewer-1")
	require.NoError(t, conn.WriteJSON(Frame{Type: "message", Content: "hi https://x.dev", Name: "Vee", Subscriber: true}))
	require.NoError(t, conn.WriteJSON(Frame{Type: "typing"}))
	require.NoError(t, conn.WriteJSON(Frame{Type: "message", Content: "again"}))

	var first, second *chat.Message
	for _, dst := range []**chat.Message{&first, &second} {
		select {
		case m := <-got:
			*dst = m
		case <-time.After(2 * time.Second):
			t.Fatal("no inbound message")
		}
	}

	require.NoError(t, first.Validate())
	assert.Equal(t, SourceName, first.Source)
	assert.Equal(t, "viewer-1", first.Channel)
	assert.Equal(t, "Vee", first.Author.DisplayName)
	assert.True(t, first.Author.Roles.Subscriber)
	assert.True(t, first.Author.Roles.FirstTime)
	assert.Equal(t, []string{"https://x.dev"}, first.Links)
	assert.False(t, second.Author.Roles.FirstTime)
	assert.NotEqual(t, first.ID, second.ID)

	require.NoError(t, a.Send(ctx, "hello viewer", "viewer-1"))
	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "response", resp.Type)
	assert.Equal(t, "hello viewer", resp.Content)

	assert.Error(t, a.Send(ctx, "nobody", "viewer-2"))
}

func TestAdapter_Broadcast(t *testing.T) {
	a := New(Config{Addr: "127.0.0.1:0"}, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, a.Connect(ctx))
	t.Cleanup(func() { _ = a.Disconnect(ctx) })

	c1 := dial(t, a, "a")
	c2 := dial(t, a, "b")
	require.NoError(t, a.Send(ctx, "hello all", Broadcast))

	for _, c := range []*websocket.Conn{c1, c2} {
		var f Frame
		require.NoError(t, c.ReadJSON(&f))
		assert.Equal(t, "hello all", f.Content)
	}
}

func TestAdapter_NotConnected(t *testing.T) {
	a := New(Config{}, zerolog.Nop())
	assert.ErrorIs(t, a.Send(context.Background(), "x", ""), channel.ErrNotConnected)
	assert.Error(t, a.Connect(context.Background()))
	assert.NoError(t, a.Disconnect(context.Background()))
	assert.Empty(t, a.Addr())
}
