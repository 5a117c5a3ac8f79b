// Package llm provides the provider-neutral types for chat-completion
// back ends used by the device classifier's cloud fallback. The only
// bundled implementation speaks the OpenAI-compatible API
// (internal/llm/openai); local servers like Ollama and LM Studio expose
// the same surface.
package llm

import "context"

// Provider is implemented by all chat-completion back ends.
type Provider interface {
	// Chat creates a completion from a conversation history.
	Chat(ctx context.Context, messages []Message, opts ...CallOption) (*Response, error)
}

// HealthReporter is optionally implemented by providers that can report
// reachability. Detected via type assertion.
type HealthReporter interface {
	Heartbeat(ctx context.Context) error
}

// Message is a single message in a chat conversation.
type Message struct {
	Role    string `json:"role"` // One of RoleSystem, RoleUser, RoleAssistant.
	Content string `json:"content"`
}

// Role constants for the Message.Role field.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Response contains the generated text and metadata.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption for a single call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CallOption configures a single Chat call.
type CallOption func(*CallConfig)

// CallConfig holds the resolved configuration for a single call.
type CallConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// WithModel overrides the provider's default model for this call.
func WithModel(model string) CallOption {
	return func(c *CallConfig) { c.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) CallOption {
	return func(c *CallConfig) { c.Temperature = temp }
}

// WithMaxTokens caps the number of generated tokens.
func WithMaxTokens(n int) CallOption {
	return func(c *CallConfig) { c.MaxTokens = n }
}

// ApplyOptions resolves a CallConfig from options, starting from defaults.
func ApplyOptions(opts ...CallOption) CallConfig {
	cfg := CallConfig{
		Temperature: 0.1,
		MaxTokens:   512,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
