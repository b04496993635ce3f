package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/normanking/cortex-attention/internal/chat"
)

func TestBase_Deliver(t *testing.T) {
	b := NewBase("twitch")
	assert.Equal(t, "twitch", b.SourceName())
	assert.False(t, b.Deliver(&chat.Message{ID: "1"}), "no callback yet")

	var got *chat.Message
	b.RegisterInboundCallback(func(m *chat.Message) { got = m })
	assert.True(t, b.Deliver(&chat.Message{ID: "1"}))
	assert.Equal(t, "twitch", got.Source)
	assert.False(t, b.Deliver(nil))

	b.SetConnected(true)
	assert.True(t, b.IsConnected())
}

func TestExtractLinks(t *testing.T) {
	assert.Equal(t,
		[]string{"https://a.dev/x", "http://b.dev"},
		ExtractLinks("see https://a.dev/x, and (http://b.dev) or ftp://c"))
	assert.Nil(t, ExtractLinks("no links here"))
}

func TestExtractMentions(t *testing.T) {
	assert.Equal(t, []string{"cortex", "mod_bob"},
		ExtractMentions("hey @cortex, ask @mod_bob! @ alone"))
	assert.Nil(t, ExtractMentions("nobody here"))
}
