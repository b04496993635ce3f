package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/normanking/cortex-attention/internal/chat"
)

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Model   string        `mapstructure:"model" yaml:"model"`
	Persona string        `mapstructure:"persona" yaml:"persona"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// RatePerMinute caps generation requests. 0 means unlimited.
	RatePerMinute float64 `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
	MaxChars      int     `mapstructure:"max_chars" yaml:"max_chars"`
}

// Ollama generates replies with a local model.
type Ollama struct {
	cfg        OllamaConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOllama returns a client for cfg.URL.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if cfg.URL == "" {
		return nil, errors.New("ollama URL is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("ollama model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 400
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(cfg.RatePerMinute / 60)
		burst = max(1, int(cfg.RatePerMinute/6))
	}
	return &Ollama{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}, nil
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count"`
}

// Respond implements Func. When the rate limit is exhausted the message is
// skipped rather than delayed.
func (o *Ollama) Respond(ctx context.Context, msg *chat.Message, snap chat.Snapshot) (string, bool, error) {
	if !o.limiter.Allow() {
		return "", false, nil
	}

	body, err := json.Marshal(generateRequest{
		Model:   o.cfg.Model,
		System:  o.system(snap),
		Prompt:  prompt(msg),
		Stream:  false,
		Options: map[string]any{"num_predict": 120},
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(o.cfg.URL, "/") + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", false, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(b))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, fmt.Errorf("failed to decode response: %w", err)
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", false, nil
	}
	if r := []rune(text); len(r) > o.cfg.MaxChars {
		text = strings.TrimSpace(string(r[:o.cfg.MaxChars])) + "…"
	}
	return text, true, nil
}

// Health checks that the server answers /api/tags.
func (o *Ollama) Health(ctx context.Context) error {
	url := strings.TrimRight(o.cfg.URL, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (o *Ollama) system(snap chat.Snapshot) string {
	var b strings.Builder
	persona := o.cfg.Persona
	if persona == "" {
		persona = "a friendly live streamer"
	}
	fmt.Fprintf(&b, "You are %s chatting with a live audience. Reply in one or two short sentences.", persona)
	if snap.AttentionState != "" {
		fmt.Fprintf(&b, " Your current attention mode is %s.", snap.AttentionState)
	}
	if len(snap.RecentTopics) > 0 {
		fmt.Fprintf(&b, " Chat has been talking about: %s.", strings.Join(snap.RecentTopics, ", "))
	}
	switch snap.Trend {
	case chat.TrendRising:
		b.WriteString(" Chat is getting busier.")
	case chat.TrendFalling:
		b.WriteString(" Chat is slowing down.")
	}
	return b.String()
}

func prompt(msg *chat.Message) string {
	name := msg.Author.DisplayName
	if name == "" {
		name = msg.Author.ID
	}
	return fmt.Sprintf("%s says: %s", name, msg.Text)
}
