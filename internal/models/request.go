package models

// Chat roles accepted from clients.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single turn of a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a validated chat completion request with defaults applied.
// It is marshaled as-is to the upstream chat completions endpoint.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
}

// ImageRequest is a validated image generation request.
type ImageRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	Size   string `json:"size"`
	N      int    `json:"n"`
}

// VideoRequest is a validated video generation request.
type VideoRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	Duration    string `json:"duration"`
	Resolution  string `json:"resolution"`
	AspectRatio string `json:"aspect_ratio"`
}

// VideoQuery identifies a video generation task to look up.
type VideoQuery struct {
	ID string `json:"id"`
}
