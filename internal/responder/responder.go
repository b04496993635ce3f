// Package responder turns a selected chat message into reply text. The
// coordinator treats a responder as opaque: it may block on I/O, it is never
// retried, and an error or an empty result means "no response".
package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/normanking/cortex-attention/internal/chat"
	"github.com/normanking/cortex-attention/internal/random"
)

// Func generates a reply to msg given the latest context snapshot. ok is
// false when the responder chose not to answer.
type Func func(ctx context.Context, msg *chat.Message, snap chat.Snapshot) (text string, ok bool, err error)

// Fallback returns a Func that tries primary and uses secondary when primary
// fails. A primary that declines to answer is respected.
func Fallback(primary, secondary Func) Func {
	return func(ctx context.Context, msg *chat.Message, snap chat.Snapshot) (string, bool, error) {
		text, ok, err := primary(ctx, msg, snap)
		if err == nil {
			return text, ok, nil
		}
		if ctx.Err() != nil {
			return "", false, err
		}
		return secondary(ctx, msg, snap)
	}
}

// Template answers from fixed phrase lists. It needs no network and is the
// default when no model endpoint is configured.
type Template struct {
	persona string
	rng     random.Source
}

// NewTemplate returns a template responder. A nil src uses a clock-seeded
// source.
func NewTemplate(persona string, src random.Source) *Template {
	if src == nil {
		src = random.New(0)
	}
	return &Template{persona: persona, rng: src}
}

var (
	questionReplies = []string{
		"Good question, @%s! Give me a second to think about that.",
		"@%s ooh, let me answer that one.",
		"@%s honestly? Great question.",
	}
	greetingReplies = []string{
		"Welcome in, @%s!",
		"Hey @%s, glad you're here!",
	}
	generalReplies = []string{
		"@%s haha, true.",
		"@%s I see you!",
		"@%s appreciate you.",
	}
	quietReplies = []string{
		"Chat's quiet. What should we do next, %s?",
	}
)

// Respond implements Func.
func (t *Template) Respond(ctx context.Context, msg *chat.Message, snap chat.Snapshot) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	name := msg.Author.DisplayName
	if name == "" {
		name = msg.Author.ID
	}

	text := strings.ToLower(msg.Text)
	var pool []string
	switch {
	case strings.Contains(text, "?"):
		pool = questionReplies
	case msg.Author.Roles.FirstTime || strings.HasPrefix(text, "hi") || strings.HasPrefix(text, "hello"):
		pool = greetingReplies
	case snap.TotalMessages == 0 && snap.Velocity <= 1:
		pool = quietReplies
	default:
		pool = generalReplies
	}
	i := int(t.rng.Float64()*float64(len(pool))) % len(pool)
	return fmt.Sprintf(pool[i], name), true, nil
}
