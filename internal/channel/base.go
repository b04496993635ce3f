package channel

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/normanking/cortex-attention/internal/chat"
)

// Base carries the bookkeeping every adapter repeats: its name, the inbound
// callback and the connected flag. Concrete adapters embed it.
type Base struct {
	name      string
	mu        sync.RWMutex
	inbound   InboundFunc
	connected atomic.Bool
}

// NewBase returns a Base for the named source.
func NewBase(name string) Base {
	return Base{name: name}
}

// SourceName implements Adapter.
func (b *Base) SourceName() string { return b.name }

// IsConnected implements Adapter.
func (b *Base) IsConnected() bool { return b.connected.Load() }

// SetConnected records the session state.
func (b *Base) SetConnected(v bool) { b.connected.Store(v) }

// RegisterInboundCallback implements Adapter.
func (b *Base) RegisterInboundCallback(fn InboundFunc) {
	b.mu.Lock()
	b.inbound = fn
	b.mu.Unlock()
}

// Deliver hands msg to the registered callback. Messages arriving before a
// callback is registered are dropped.
func (b *Base) Deliver(msg *chat.Message) bool {
	b.mu.RLock()
	fn := b.inbound
	b.mu.RUnlock()
	if fn == nil || msg == nil {
		return false
	}
	if msg.Source == "" {
		msg.Source = b.name
	}
	fn(msg)
	return true
}

// ExtractLinks returns the http(s) URLs found in text, in order.
func ExtractLinks(text string) []string {
	var links []string
	for _, f := range strings.Fields(text) {
		f = strings.Trim(f, "<>()[]\"'.,!")
		if strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
			links = append(links, f)
		}
	}
	return links
}

// ExtractMentions returns the names written as @name in text.
func ExtractMentions(text string) []string {
	var out []string
	for _, f := range strings.Fields(text) {
		if strings.HasPrefix(f, "@") {
			if name := strings.Trim(f[1:], ".,!?:;"); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}
