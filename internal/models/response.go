package models

// ErrorResponse is the uniform error body returned to clients.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
	Message string      `json:"message,omitempty"`
}

// RateLimitResponse is returned with 429 responses.
type RateLimitResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// Video task states reported upstream.
const (
	TaskProcessing = "PROCESSING"
	TaskSuccess    = "SUCCESS"
	TaskFail       = "FAIL"
)

// VideoTask is the upstream descriptor of a video generation task.
type VideoTask struct {
	ID           string        `json:"id"`
	RequestID    string        `json:"request_id,omitempty"`
	Model        string        `json:"model,omitempty"`
	TaskStatus   string        `json:"task_status"`
	VideoResult  []VideoResult `json:"video_result,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// VideoResult describes one rendered video.
type VideoResult struct {
	URL           string `json:"url"`
	CoverImageURL string `json:"cover_image_url,omitempty"`
}
