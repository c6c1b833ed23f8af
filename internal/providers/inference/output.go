package inference

import (
	"encoding/json"
	"strings"

	"petdance/internal/domain"
)

// CallbackPayload is the body of a completion webhook. Output is kept raw
// because its shape varies between model versions.
type CallbackPayload struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// Provider terminal statuses as reported in callbacks.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// OutputShape names which extraction strategy produced the result locator.
type OutputShape string

const (
	ShapeString OutputShape = "string"
	ShapeObject OutputShape = "object"
	ShapeArray  OutputShape = "array"
)

// ExtractedOutput is the locator recovered from a provider output field,
// tagged with the shape that matched.
type ExtractedOutput struct {
	URL   string
	Shape OutputShape
}

// objectKeys are the known field names carrying the result locator when the
// output is an object, in lookup order.
var objectKeys = []string{"video", "url", "output"}

// ExtractOutput recovers a result locator from the loosely-structured output
// field. Strategies are tried in a fixed order: a bare string, an object with
// one of the known keys, then the first usable element of an array. The first
// match wins; no match is domain.ErrNoUsableOutput.
func ExtractOutput(raw json.RawMessage) (*ExtractedOutput, error) {
	if len(raw) == 0 {
		return nil, domain.ErrNoUsableOutput
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return &ExtractedOutput{URL: s, Shape: ShapeString}, nil
		}
		return nil, domain.ErrNoUsableOutput
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range objectKeys {
			inner, ok := obj[key]
			if !ok {
				continue
			}
			if out, err := ExtractOutput(inner); err == nil {
				return &ExtractedOutput{URL: out.URL, Shape: ShapeObject}, nil
			}
		}
		return nil, domain.ErrNoUsableOutput
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		for _, inner := range arr {
			if out, err := ExtractOutput(inner); err == nil {
				return &ExtractedOutput{URL: out.URL, Shape: ShapeArray}, nil
			}
		}
		return nil, domain.ErrNoUsableOutput
	}

	return nil, domain.ErrNoUsableOutput
}
