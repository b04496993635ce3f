// Package simulated produces synthetic chat traffic for demos and soak runs.
// It behaves like any other source: messages arrive on its own goroutine and
// replies are recorded instead of sent anywhere.
package simulated

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/cortex-attention/internal/channel"
	"github.com/normanking/cortex-attention/internal/chat"
	"github.com/normanking/cortex-attention/internal/random"
)

// Config configures the generator.
type Config struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Rate is the mean number of messages per second.
	Rate    float64 `mapstructure:"rate" yaml:"rate"`
	Viewers int     `mapstructure:"viewers" yaml:"viewers"`
	Persona string  `mapstructure:"persona" yaml:"persona"`
	Channel string  `mapstructure:"channel" yaml:"channel"`
	Seed    uint64  `mapstructure:"seed" yaml:"seed"`
}

var lines = []string{
	"lol",
	"this is so good",
	"what game is this?",
	"@%s how long have you been streaming?",
	"first time here, hi everyone!",
	"that was amazing",
	"why did you go left there",
	"gg",
	"I love this song",
	"this boss is impossible",
	"%s can you explain that strategy?",
	"check this out https://clips.example.com/abc",
	"anyone else lagging?",
	"hype",
	"so bored of this map",
}

type viewer struct {
	id     string
	name   string
	roles  chat.Roles
	tenure *time.Duration
}

// Adapter generates messages while connected.
type Adapter struct {
	channel.Base

	cfg     Config
	logger  zerolog.Logger
	rng     random.Source
	viewers []viewer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	sent   []string
}

// New returns a generator. Rate defaults to 1 message per second.
func New(cfg Config, logger zerolog.Logger) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "simulated"
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Viewers <= 0 {
		cfg.Viewers = 25
	}
	if cfg.Persona == "" {
		cfg.Persona = "cortex"
	}
	if cfg.Channel == "" {
		cfg.Channel = "main"
	}
	a := &Adapter{
		Base:   channel.NewBase(cfg.Name),
		cfg:    cfg,
		logger: logger.With().Str("source", cfg.Name).Logger(),
		rng:    random.New(cfg.Seed),
	}
	for i := 0; i < cfg.Viewers; i++ {
		v := viewer{
			id:   fmt.Sprintf("%s-viewer-%d", cfg.Name, i),
			name: fmt.Sprintf("viewer%d", i),
		}
		v.roles.Subscriber = a.rng.Float64() < 0.3
		v.roles.Moderator = i == 0
		v.roles.FirstTime = a.rng.Float64() < 0.1
		if v.roles.Subscriber {
			d := time.Duration(random.Uniform(a.rng, 1, 400)) * 24 * time.Hour
			v.tenure = &d
		}
		a.viewers = append(a.viewers, v)
	}
	return a
}

// Connect starts generating.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	a.SetConnected(true)
	go a.run(runCtx, a.done)
	a.logger.Info().Float64("rate", a.cfg.Rate).Int("viewers", len(a.viewers)).Msg("Simulated source started")
	return nil
}

func (a *Adapter) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		// gaps are jittered by ±50% around 1/Rate
		gap := time.Duration(random.Uniform(a.rng, 0.5, 1.5) / a.cfg.Rate * float64(time.Second))
		select {
		case <-ctx.Done():
			return
		case <-time.After(gap):
			a.Deliver(a.Generate(time.Now()))
		}
	}
}

// Generate builds one synthetic message.
func (a *Adapter) Generate(now time.Time) *chat.Message {
	v := a.viewers[int(a.rng.Float64()*float64(len(a.viewers)))%len(a.viewers)]
	tmpl := lines[int(a.rng.Float64()*float64(len(lines)))%len(lines)]

	msg := &chat.Message{
		ID:      uuid.NewString(),
		Source:  a.SourceName(),
		Channel: a.cfg.Channel,
		Author: chat.Author{
			ID:          v.id,
			DisplayName: v.name,
			Roles:       v.roles,
			Tenure:      v.tenure,
		},
		ArrivedAt: now,
	}
	switch tmpl {
	case lines[3]:
		msg.Text = fmt.Sprintf(tmpl, a.cfg.Persona)
		msg.Mentions = []string{a.cfg.Persona}
	case lines[10]:
		msg.Text = fmt.Sprintf(tmpl, a.cfg.Persona)
	default:
		msg.Text = tmpl
	}
	msg.Links = channel.ExtractLinks(msg.Text)
	return msg
}

// Disconnect stops generating.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
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

// Send records the reply.
func (a *Adapter) Send(ctx context.Context, text, ch string) error {
	if !a.IsConnected() {
		return channel.ErrNotConnected
	}
	a.mu.Lock()
	a.sent = append(a.sent, text)
	a.mu.Unlock()
	a.logger.Info().Str("channel", ch).Str("text", text).Msg("Simulated reply")
	return nil
}

// Sent returns every reply recorded so far.
func (a *Adapter) Sent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}
