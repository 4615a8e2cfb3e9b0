// Package inference is the gateway to the vision-capable chat model that
// powers diagram description, component extraction and threat generation.
// Structured results are obtained by forcing a tool call whose schema
// mirrors the domain type.
package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aversant/threatcanvas/internal/common"
)

// Config carries the provider settings. Values come from the environment
// through LoadConfig.
type Config struct {
	Endpoint       string
	Model          string
	MaxTokens      int
	Temperature    float32
	RequestTimeout time.Duration
	RefreshRetries int
}

func LoadConfig() Config {
	cfg := Config{
		Endpoint: strings.TrimSpace(os.Getenv("OPENAI_ENDPOINT")),
		Model:    strings.TrimSpace(os.Getenv("OPENAI_CHAT_MODEL")),
	}
	if raw := strings.TrimSpace(os.Getenv("OPENAI_MAX_TOKENS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.MaxTokens = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv("OPENAI_REQUEST_TIMEOUT")); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			cfg.RequestTimeout = parsed
		}
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4000
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 2 * time.Minute
	}
	if c.RefreshRetries <= 0 {
		c.RefreshRetries = 1
	}
}

// CredentialSource supplies the current API key. Implementations may hand
// out short-lived credentials that expire between calls.
type CredentialSource interface {
	Credentials(ctx context.Context) (string, error)
}

// EnvCredentials reads the key from OPENAI_API_KEY on every call.
type EnvCredentials struct{}

func (EnvCredentials) Credentials(ctx context.Context) (string, error) {
	key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if key == "" {
		return "", fmt.Errorf("OPENAI_API_KEY not set")
	}
	return key, nil
}

// FileCredentials reads the key from a mounted secret file, picking up
// rotations without a restart.
type FileCredentials struct {
	Path string
}

func (f FileCredentials) Credentials(ctx context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read credential file: %w", err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("credential file %s is empty", f.Path)
	}
	return key, nil
}

// NewCredentialSource picks the environment key when present and falls back
// to the conventional secret mount otherwise.
func NewCredentialSource() CredentialSource {
	if strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) != "" {
		return EnvCredentials{}
	}
	return FileCredentials{Path: "/run/secrets/openai_api_key"}
}

// completer is the provider call surface, narrowed for tests.
type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Gateway issues model calls and transparently refreshes expired
// credentials. Safe for concurrent use.
type Gateway struct {
	cfg       Config
	creds     CredentialSource
	newClient func(key string) completer

	mu     sync.Mutex
	client completer
}

func NewGateway(cfg Config, creds CredentialSource) (*Gateway, error) {
	cfg.applyDefaults()
	if creds == nil {
		creds = NewCredentialSource()
	}
	g := &Gateway{
		cfg:   cfg,
		creds: creds,
		newClient: func(key string) completer {
			clientCfg := openai.DefaultConfig(key)
			if cfg.Endpoint != "" {
				clientCfg.BaseURL = cfg.Endpoint
			}
			return openai.NewClientWithConfig(clientCfg)
		},
	}
	if err := g.rebuild(context.Background()); err != nil {
		return nil, err
	}
	common.Logger().Info("inference: gateway ready", "model", cfg.Model, "endpoint", cfg.Endpoint)
	return g, nil
}

// rebuild fetches fresh credentials and replaces the underlying client.
func (g *Gateway) rebuild(ctx context.Context) error {
	key, err := g.creds.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("obtain model credentials: %w", err)
	}
	g.mu.Lock()
	g.client = g.newClient(key)
	g.mu.Unlock()
	return nil
}

func (g *Gateway) current() completer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client
}

// complete runs one chat completion, refreshing credentials and retrying
// once when the provider signals expiry. Other failures pass through
// unchanged.
func (g *Gateway) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	resp, err := g.current().CreateChatCompletion(ctx, req)
	for attempt := 0; err != nil && IsCredentialExpired(err) && attempt < g.cfg.RefreshRetries; attempt++ {
		common.Logger().Warn("inference: credentials rejected, refreshing", "attempt", attempt+1)
		if refreshErr := g.rebuild(ctx); refreshErr != nil {
			return openai.ChatCompletionResponse{}, refreshErr
		}
		resp, err = g.current().CreateChatCompletion(ctx, req)
	}
	return resp, err
}

// callTool forces the named tool and decodes its arguments into out.
func (g *Gateway) callTool(ctx context.Context, system string, messages []openai.ChatCompletionMessage, tool toolSpec, out any) error {
	req := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: append([]openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
		}, messages...),
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.name,
				Description: tool.description,
				Parameters:  tool.parameters,
			},
		}},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: tool.name},
		},
	}
	resp, err := g.complete(ctx, req)
	if err != nil {
		return fmt.Errorf("model call %s: %w", tool.name, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("model call %s: %w", tool.name, ErrNoStructuredOutput)
	}
	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) == 0 {
		return fmt.Errorf("model call %s: %w", tool.name, ErrNoStructuredOutput)
	}
	if err := json.Unmarshal([]byte(calls[0].Function.Arguments), out); err != nil {
		return fmt.Errorf("model call %s: decode arguments: %w: %v", tool.name, ErrNoStructuredOutput, err)
	}
	return nil
}

// completeText runs one chat completion and returns the plain text answer.
func (g *Gateway) completeText(ctx context.Context, system string, messages []openai.ChatCompletionMessage) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: append([]openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
		}, messages...),
	}
	resp, err := g.complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("model call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model call: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// imagePart wraps PNG bytes as an inline data URL content part.
func imagePart(image []byte) openai.ChatMessagePart {
	return openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
			Detail: openai.ImageURLDetailAuto,
		},
	}
}

func textPart(text string) openai.ChatMessagePart {
	return openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text}
}
