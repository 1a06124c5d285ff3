package validate

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Defaults applied to chat requests.
const (
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
	DefaultMaxTokens   = 4096
	DefaultImageSize   = "1024x1024"
)

// Whitelists. The first entry of each optional enumeration is its default.
var (
	ChatModels = []string{
		"glm-4",
		"glm-4-plus",
		"glm-4-0520",
		"glm-4-air",
		"glm-4-airx",
		"glm-4-flash",
		"glm-4-flashx",
		"glm-3-turbo",
	}
	ImageModels       = []string{"cogview-3-plus", "cogview-3"}
	ImageSizes        = []string{"1024x1024", "768x1344", "864x1152", "1344x768", "1152x864"}
	VideoModels       = []string{"cogvideox-5b", "cogvideox-2b"}
	VideoDurations    = []string{"5", "6"}
	VideoResolutions  = []string{"720p", "1080p"}
	VideoAspectRatios = []string{"16:9", "9:16"}
)

// The oneof lists below must stay in sync with the whitelists above.

type chatMessageInput struct {
	Role    string  `json:"role" validate:"oneof=system user assistant"`
	Content *string `json:"content" validate:"required,min=1,max=128000"`
}

type chatInput struct {
	Messages    []chatMessageInput `json:"messages" validate:"required,min=1,max=200,dive"`
	Model       string             `json:"model" validate:"required,oneof=glm-4 glm-4-plus glm-4-0520 glm-4-air glm-4-airx glm-4-flash glm-4-flashx glm-3-turbo"`
	Stream      *bool              `json:"stream"`
	Temperature *float64           `json:"temperature" validate:"omitempty,min=0,max=2"`
	TopP        *float64           `json:"top_p" validate:"omitempty,min=0,max=1"`
	MaxTokens   *int               `json:"max_tokens" validate:"omitempty,min=1,max=128000"`
}

type imageInput struct {
	Prompt *string `json:"prompt" validate:"required,min=1,max=4000"`
	Model  *string `json:"model" validate:"omitempty,oneof=cogview-3-plus cogview-3"`
	Size   *string `json:"size" validate:"omitempty,oneof=1024x1024 768x1344 864x1152 1344x768 1152x864"`
	N      *int    `json:"n" validate:"omitempty,min=1,max=4"`
}

func (in *imageInput) trim() {
	trimPtr(in.Prompt)
}

type videoInput struct {
	Prompt      *string `json:"prompt" validate:"required,min=1,max=2000"`
	Model       *string `json:"model" validate:"omitempty,oneof=cogvideox-5b cogvideox-2b"`
	Duration    *string `json:"duration" validate:"omitempty,oneof=5 6"`
	Resolution  *string `json:"resolution" validate:"omitempty,oneof=720p 1080p"`
	AspectRatio *string `json:"aspect_ratio" validate:"omitempty,oneof=16:9 9:16"`
}

func (in *videoInput) trim() {
	trimPtr(in.Prompt)
}

type videoQueryInput struct {
	ID *string `json:"id" validate:"required,min=1,max=100"`
}

func trimPtr(s *string) {
	if s != nil {
		*s = strings.TrimSpace(*s)
	}
}

// messageTable holds the client-facing wording of each violation. Keys are
// field paths with array indices removed.
type messageTable struct {
	// field -> validator tag -> message; tag "*" matches any tag
	constraints map[string]map[string]string
	// field -> message for a JSON type mismatch
	types map[string]string
	// field -> message for a fractional number given to an integer field
	integers map[string]string
}

func (t messageTable) message(path, tag string) string {
	key := stripIndices(path)
	if byTag, ok := t.constraints[key]; ok {
		if msg, ok := byTag[tag]; ok {
			return msg
		}
		if msg, ok := byTag["*"]; ok {
			return msg
		}
	}
	return fmt.Sprintf("Invalid value for %s", path)
}

func (t messageTable) typeError(e *json.UnmarshalTypeError) FieldError {
	key := stripIndices(e.Field)
	if strings.HasPrefix(e.Value, "number ") {
		if msg, ok := t.integers[key]; ok {
			return FieldError{Field: e.Field, Message: msg}
		}
	}
	if msg, ok := t.types[key]; ok {
		return FieldError{Field: e.Field, Message: msg}
	}
	return FieldError{
		Field:   e.Field,
		Message: fmt.Sprintf("Expected %s, received %s", goKind(e.Type), jsonKind(e.Value)),
	}
}

var indexSegment = regexp.MustCompile(`\.\d+(\.|$)`)

func stripIndices(path string) string {
	for indexSegment.MatchString(path) {
		path = indexSegment.ReplaceAllString(path, "$1")
	}
	return path
}

func goKind(t reflect.Type) string {
	if t == nil {
		return "value"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Struct, reflect.Map:
		return "object"
	}
	return t.Kind().String()
}

func oneOfMessage(label string, values []string, suffix string) string {
	return fmt.Sprintf("%s must be one of: %s%s", label, strings.Join(values, ", "), suffix)
}

var chatMessages = messageTable{
	constraints: map[string]map[string]string{
		"messages": {
			"required": "Messages array is required",
			"min":      "At least one message is required",
			"max":      "Too many messages (max 200)",
		},
		"messages.role": {"*": "Role must be one of: system, user, assistant"},
		"messages.content": {
			"required": "Message content is required",
			"min":      "Message content cannot be empty",
			"max":      "Message content too long",
		},
		"model":       {"*": oneOfMessage("Model", ChatModels, "")},
		"temperature": {"*": "Temperature must be between 0 and 2"},
		"top_p":       {"*": "Top_p must be between 0 and 1"},
		"max_tokens": {
			"min": "Max_tokens must be at least 1",
			"max": "Max_tokens cannot exceed 128000",
		},
	},
	types: map[string]string{
		"messages":    "Messages must be an array",
		"temperature": "Temperature must be a number",
		"top_p":       "Top_p must be a number",
		"max_tokens":  "Max_tokens must be a number",
		"stream":      "Stream must be a boolean",
	},
	integers: map[string]string{
		"max_tokens": "Max_tokens must be an integer",
	},
}

var imageMessages = messageTable{
	constraints: map[string]map[string]string{
		"prompt": {
			"required": "Prompt is required",
			"min":      "Prompt cannot be empty",
			"max":      "Prompt too long (max 4000 characters)",
		},
		"model": {"*": oneOfMessage("Model", ImageModels, "")},
		"size":  {"*": oneOfMessage("Size", ImageSizes, "")},
		"n": {
			"min": "N must be at least 1",
			"max": "N cannot exceed 4",
		},
	},
	types: map[string]string{
		"n": "N must be a number",
	},
	integers: map[string]string{
		"n": "N must be an integer",
	},
}

var videoMessages = messageTable{
	constraints: map[string]map[string]string{
		"prompt": {
			"required": "Prompt is required",
			"min":      "Prompt cannot be empty",
			"max":      "Prompt too long (max 2000 characters)",
		},
		"model":        {"*": oneOfMessage("Model", VideoModels, "")},
		"duration":     {"*": oneOfMessage("Duration", VideoDurations, " seconds")},
		"resolution":   {"*": oneOfMessage("Resolution", VideoResolutions, "")},
		"aspect_ratio": {"*": oneOfMessage("Aspect ratio", VideoAspectRatios, "")},
	},
}

var videoQueryMessages = messageTable{
	constraints: map[string]map[string]string{
		"id": {
			"required": "Task ID is required",
			"min":      "Task ID cannot be empty",
			"max":      "Task ID too long",
		},
	},
}
