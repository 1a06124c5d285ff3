// Package validate checks and normalizes inbound proxy payloads.
//
// Requests are decoded into pointer-typed input structs so that absent
// fields can be told apart from zero values, checked with
// go-playground/validator against whitelisted enumerations and bounds, and
// then converted to the normalized models with defaults applied. Values
// outside the whitelists are always rejected, even when the upstream would
// accept them.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/genai-studio/edge-proxy/internal/models"
)

// Kind selects the schema a payload is validated against.
type Kind string

const (
	KindChat       Kind = "chat"
	KindImage      Kind = "image"
	KindVideo      Kind = "video"
	KindVideoQuery Kind = "video_query"
)

// FieldError describes one violated constraint. Field is a dotted path
// such as "messages.3.content"; it is empty for errors about the body as a
// whole.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is the list of constraint violations of a single payload.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		if fe.Field == "" {
			parts = append(parts, fe.Message)
			continue
		}
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validator validates proxy payloads. It is safe for concurrent use.
type Validator struct {
	v *validator.Validate
}

// New creates a Validator.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// Validate validates raw against the schema for kind and returns the
// normalized request. For KindVideoQuery raw is the task id itself.
func (v *Validator) Validate(kind Kind, raw []byte) (interface{}, error) {
	switch kind {
	case KindChat:
		return v.Chat(raw)
	case KindImage:
		return v.Image(raw)
	case KindVideo:
		return v.Video(raw)
	case KindVideoQuery:
		id := string(raw)
		return v.VideoQuery(&id)
	}
	return nil, fmt.Errorf("unknown request kind %q", kind)
}

// Chat validates a chat completion request.
func (v *Validator) Chat(raw []byte) (*models.ChatRequest, error) {
	var in chatInput
	if err := v.check(raw, &in, chatMessages); err != nil {
		return nil, err
	}

	msgs := make([]models.ChatMessage, len(in.Messages))
	for i, m := range in.Messages {
		msgs[i] = models.ChatMessage{Role: m.Role, Content: *m.Content}
	}

	return &models.ChatRequest{
		Messages:    msgs,
		Model:       in.Model,
		Stream:      boolOr(in.Stream, false),
		Temperature: floatOr(in.Temperature, DefaultTemperature),
		TopP:        floatOr(in.TopP, DefaultTopP),
		MaxTokens:   intOr(in.MaxTokens, DefaultMaxTokens),
	}, nil
}

// Image validates an image generation request.
func (v *Validator) Image(raw []byte) (*models.ImageRequest, error) {
	var in imageInput
	if err := v.check(raw, &in, imageMessages); err != nil {
		return nil, err
	}

	return &models.ImageRequest{
		Prompt: *in.Prompt,
		Model:  stringOr(in.Model, ImageModels[0]),
		Size:   stringOr(in.Size, DefaultImageSize),
		N:      intOr(in.N, 1),
	}, nil
}

// Video validates a video generation request.
func (v *Validator) Video(raw []byte) (*models.VideoRequest, error) {
	var in videoInput
	if err := v.check(raw, &in, videoMessages); err != nil {
		return nil, err
	}

	return &models.VideoRequest{
		Prompt:      *in.Prompt,
		Model:       stringOr(in.Model, VideoModels[0]),
		Duration:    stringOr(in.Duration, VideoDurations[0]),
		Resolution:  stringOr(in.Resolution, VideoResolutions[0]),
		AspectRatio: stringOr(in.AspectRatio, VideoAspectRatios[0]),
	}, nil
}

// VideoQuery validates a video status query. A nil id means the query
// parameter was absent.
func (v *Validator) VideoQuery(id *string) (*models.VideoQuery, error) {
	in := videoQueryInput{ID: id}
	if errs := v.collect(&in, videoQueryMessages, nil); len(errs) > 0 {
		return nil, errs
	}
	return &models.VideoQuery{ID: *in.ID}, nil
}

// trimmer is implemented by inputs that normalize whitespace before their
// constraints are checked.
type trimmer interface {
	trim()
}

func (v *Validator) check(raw []byte, in interface{}, msgs messageTable) error {
	var errs Errors

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Errors{{Field: "", Message: "Request body is required"}}
	}

	if err := json.Unmarshal(raw, in); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return Errors{{Field: "", Message: "Invalid JSON body"}}
		}
		if typeErr.Field == "" {
			return Errors{{Field: "", Message: fmt.Sprintf("Expected object, received %s", jsonKind(typeErr.Value))}}
		}
		// decoding continues past type mismatches, so the rest of the
		// struct is still worth validating
		errs = append(errs, msgs.typeError(typeErr))
	}

	if t, ok := in.(trimmer); ok {
		t.trim()
	}

	errs = append(errs, v.collect(in, msgs, errs)...)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// collect runs struct validation and translates the failures. Fields that
// already failed to decode are not reported twice.
func (v *Validator) collect(in interface{}, msgs messageTable, seen Errors) Errors {
	err := v.v.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Errors{{Field: "", Message: err.Error()}}
	}

	reported := make(map[string]bool, len(seen))
	for _, fe := range seen {
		reported[fe.Field] = true
	}

	var out Errors
	for _, fe := range verrs {
		path := fieldPath(fe.Namespace())
		if reported[path] {
			continue
		}
		out = append(out, FieldError{Field: path, Message: msgs.message(path, fe.Tag())})
	}
	return out
}

var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

// fieldPath turns a validator namespace ("chatInput.messages[3].content")
// into a dotted path ("messages.3.content").
func fieldPath(namespace string) string {
	_, rest, ok := strings.Cut(namespace, ".")
	if !ok {
		return ""
	}
	return indexPattern.ReplaceAllString(rest, ".$1")
}

// jsonKind maps the Value of a json.UnmarshalTypeError to a JSON type name.
func jsonKind(value string) string {
	switch {
	case strings.HasPrefix(value, "number"):
		return "number"
	case value == "":
		return "unknown"
	}
	return value
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func stringOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
