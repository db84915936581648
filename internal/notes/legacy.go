package notes

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedLegacyContent indicates that a legacy payload is not a plain string.
var ErrMalformedLegacyContent = errors.New("notes: malformed legacy content")

// LegacyContent keeps the raw content payload of a note written before block content existed.
type LegacyContent struct {
	raw json.RawMessage
}

// NewLegacyContent wraps a legacy plain-string body.
func NewLegacyContent(text string) *LegacyContent {
	encoded, _ := json.Marshal(text)
	return &LegacyContent{raw: encoded}
}

// Raw returns a copy of the stored payload.
func (legacy *LegacyContent) Raw() json.RawMessage {
	if legacy == nil || len(legacy.raw) == 0 {
		return json.RawMessage(`""`)
	}
	return append(json.RawMessage(nil), legacy.raw...)
}

// Text returns the legacy string body, failing when the payload was not a string.
func (legacy *LegacyContent) Text() (string, error) {
	if legacy == nil {
		return "", fmt.Errorf("%w: missing payload", ErrMalformedLegacyContent)
	}
	var text string
	if err := json.Unmarshal(legacy.raw, &text); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedLegacyContent, err)
	}
	return text, nil
}
