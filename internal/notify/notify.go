// Package notify relays resolver and pipeline results to the subscription
// endpoint as GraphQL mutations so interested clients observe progress
// without polling.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aversant/threatcanvas/internal/common"
)

// Config controls the relay transport.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// LoadConfig reads relay settings from the environment. An empty URL
// disables relaying.
func LoadConfig() Config {
	cfg := Config{
		URL:    strings.TrimSpace(os.Getenv("THREATCANVAS_NOTIFY_URL")),
		APIKey: strings.TrimSpace(os.Getenv("THREATCANVAS_NOTIFY_API_KEY")),
	}
	if raw := strings.TrimSpace(os.Getenv("THREATCANVAS_NOTIFY_TIMEOUT")); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			cfg.Timeout = parsed
		}
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

// Relay posts GraphQL mutations to the notification endpoint. A Relay with
// no URL accepts every send and drops it.
type Relay struct {
	cfg    Config
	client *http.Client
}

func NewRelay(cfg Config) *Relay {
	cfg.applyDefaults()
	return &Relay{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Send delivers one mutation. Whitespace in the query document is collapsed
// before sending.
func (r *Relay) Send(ctx context.Context, query string, variables map[string]any) error {
	if r == nil || r.cfg.URL == "" {
		return nil
	}
	body, err := json.Marshal(graphqlRequest{Query: collapse(query), Variables: variables})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("x-api-key", r.cfg.APIKey)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var parsed graphqlResponse
	if err := json.Unmarshal(payload, &parsed); err == nil && len(parsed.Errors) > 0 {
		common.Logger().Warn("notify: endpoint reported errors", "first", parsed.Errors[0].Message, "count", len(parsed.Errors))
	}
	return nil
}

// collapse flattens a multi-line GraphQL document into a single line.
func collapse(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
