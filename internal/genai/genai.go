// Package genai provides LLM completions for StudyPipe using the OpenAI API.
//
// A Client carries two model names: a lighter text model used for plain
// messages and summaries, and a vision-capable model used whenever the
// current user turn carries an image.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default model and sampling settings.
const (
	DefaultTextModel   = "gpt-4o-mini"
	DefaultVisionModel = "gpt-4o"
	DefaultTemperature = 0.4
	DefaultMaxTokens   = 800
)

var (
	// ErrNoChoicesReturned is returned when the completion service answers with no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyCompletion is returned when the first choice carries only whitespace.
	ErrEmptyCompletion = errors.New("empty completion")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK completion service to chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// ClientInterface is the completion surface the rest of StudyPipe depends on.
type ClientInterface interface {
	// GeneratePromptWithContext runs a single system+user exchange on the text model.
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// Complete runs a multi-turn request, switching to the vision model when an image is attached.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Turn is one replayed history entry.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Request is a multi-turn completion request.
type Request struct {
	SystemPrompt string
	History      []Turn
	UserText     string
	// ImageDataURI, when set, is sent alongside UserText as an inline image.
	ImageDataURI string
}

// Response carries the completion text and the model that produced it.
type Response struct {
	Content string
	Model   string
}

// Client wraps the OpenAI ChatCompletion service.
type Client struct {
	chat        chatService
	textModel   string
	visionModel string
	temperature float64
	maxTokens   int
	debugMode   bool
	stateDir    string
}

var _ ClientInterface = (*Client)(nil)

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	VisionModel string
	Temperature float64
	MaxTokens   int
	DebugMode   bool
	StateDir    string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTextModel sets the model used for text-only requests and summaries.
func WithTextModel(model string) Option {
	return func(o *Opts) { o.TextModel = model }
}

// WithVisionModel sets the model used when an image is attached.
func WithVisionModel(model string) Option {
	return func(o *Opts) { o.VisionModel = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Opts) { o.Temperature = temp }
}

// WithMaxTokens caps completion length.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebugMode writes every request/response pair as JSON under <stateDir>/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets the directory used for debug dumps.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// NewClient creates a GenAI client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		TextModel:   DefaultTextModel,
		VisionModel: DefaultVisionModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("GenAI.NewClient: client created", "textModel", cfg.TextModel, "visionModel", cfg.VisionModel,
		"baseURL_set", cfg.BaseURL != "", "debugMode", cfg.DebugMode)

	return &Client{
		chat:        completionsAdapter{svc: &cli.Chat.Completions},
		textModel:   cfg.TextModel,
		visionModel: cfg.VisionModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// TextModel returns the model used for text-only requests.
func (c *Client) TextModel() string { return c.textModel }

// VisionModel returns the model used for requests with an image.
func (c *Client) VisionModel() string { return c.visionModel }

// GeneratePromptWithContext generates a response from a system and a user prompt on the text model.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	}
	return c.create(ctx, "GeneratePromptWithContext", c.textModel, messages)
}

// Complete builds the message list for req and runs it on the appropriate model.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	model := c.textModel
	if req.ImageDataURI != "" {
		model = c.visionModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, turn := range req.History {
		if turn.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	messages = append(messages, userTurn(req.UserText, req.ImageDataURI))

	content, err := c.create(ctx, "Complete", model, messages)
	if err != nil {
		return nil, err
	}
	return &Response{Content: content, Model: model}, nil
}

// userTurn builds the current user message, as multi-part content when an image is attached.
func userTurn(text, imageDataURI string) openai.ChatCompletionMessageParamUnion {
	if imageDataURI == "" {
		return openai.UserMessage(text)
	}
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, 2)
	if strings.TrimSpace(text) != "" {
		parts = append(parts, openai.TextContentPart(text))
	}
	parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: imageDataURI}))
	return openai.UserMessage(parts)
}

func (c *Client) create(ctx context.Context, method, model string, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	elapsed := time.Since(start)
	c.writeDebug(method, model, params, resp, err)

	if err != nil {
		observeCompletion(model, statusError, elapsed)
		slog.Error("GenAI."+method+": completion failed", "model", model, "error", err, "elapsed", elapsed)
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	observeTokens(model, resp.Usage)
	if len(resp.Choices) == 0 {
		observeCompletion(model, statusEmpty, elapsed)
		return "", ErrNoChoicesReturned
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		observeCompletion(model, statusEmpty, elapsed)
		return "", ErrEmptyCompletion
	}
	observeCompletion(model, statusOK, elapsed)
	slog.Debug("GenAI."+method+": completion succeeded", "model", model, "elapsed", elapsed, "chars", len(content))
	return content, nil
}

// debugEntry is the JSON shape written by writeDebug.
type debugEntry struct {
	Timestamp string                         `json:"timestamp"`
	Method    string                         `json:"method"`
	Model     string                         `json:"model"`
	Params    openai.ChatCompletionNewParams `json:"params"`
	Response  openai.ChatCompletion          `json:"response"`
	Error     string                         `json:"error,omitempty"`
}

// writeDebug dumps one request/response pair to <stateDir>/debug when debug mode is on.
// Failures are logged and otherwise ignored.
func (c *Client) writeDebug(method, model string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("GenAI.writeDebug: cannot create debug dir", "dir", dir, "error", err)
		return
	}
	now := time.Now()
	entry := debugEntry{
		Timestamp: now.Format(time.RFC3339Nano),
		Method:    method,
		Model:     model,
		Params:    params,
		Response:  resp,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("GenAI.writeDebug: marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		slog.Warn("GenAI.writeDebug: write failed", "error", err)
	}
}
