package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// DefaultMaxSnapshotBytes caps a snapshot when no limit is configured.
const DefaultMaxSnapshotBytes = 2 << 20

// MaxDisplayNameLen is the longest display name kept after sanitizing.
const MaxDisplayNameLen = 50

var (
	ErrEmptySnapshot     = errors.New("snapshot is empty")
	ErrSnapshotTooLarge  = errors.New("snapshot too large")
	ErrMalformedSnapshot = errors.New("malformed snapshot")
	ErrInvalidSessionID  = errors.New("invalid session id")
	ErrInvalidPreview    = errors.New("invalid preview image")
)

// Session ids: alphanumeric, hyphens, underscores, 1-64 chars.
var sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateSessionID checks the shape of an externally assigned session id.
func ValidateSessionID(id string) error {
	if !sessionIDRegex.MatchString(id) {
		return ErrInvalidSessionID
	}
	return nil
}

// ValidateSnapshot checks that raw is a JSON object within maxBytes. When the
// object has an "objects" member it must be an array. The payload is otherwise
// opaque.
func ValidateSnapshot(raw json.RawMessage, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSnapshotBytes
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ErrEmptySnapshot
	}
	if len(raw) > maxBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrSnapshotTooLarge, len(raw), maxBytes)
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("%w: not a JSON object", ErrMalformedSnapshot)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if objs, ok := fields["objects"]; ok {
		objs = bytes.TrimSpace(objs)
		if len(objs) == 0 || objs[0] != '[' {
			return fmt.Errorf("%w: objects must be an array", ErrMalformedSnapshot)
		}
	}
	return nil
}

// ValidatePreview accepts an empty preview or an image data URL within
// maxBytes.
func ValidatePreview(preview string, maxBytes int) error {
	if preview == "" {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSnapshotBytes
	}
	if len(preview) > maxBytes {
		return fmt.Errorf("%w: too large", ErrInvalidPreview)
	}
	if !strings.HasPrefix(preview, "data:image/") {
		return fmt.Errorf("%w: expected image data URL", ErrInvalidPreview)
	}
	return nil
}

// SanitizeDisplayName trims, strips control characters and truncates to
// MaxDisplayNameLen runes. An empty result becomes "Anonymous".
func SanitizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if runes := []rune(name); len(runes) > MaxDisplayNameLen {
		name = string(runes[:MaxDisplayNameLen])
	}
	if name == "" {
		return "Anonymous"
	}
	return name
}
