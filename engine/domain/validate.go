package domain

import (
	"regexp"
	"strings"
)

// TagSeparator is the reserved character used to encode "key:value" tag
// composites against a vector index's filter representation. Tag keys and
// values must not contain it.
const TagSeparator = ":"

// nonNameChars matches runs of underscores, dots and whitespace; index and
// queue name normalization replaces each run with "-".
var nonNameChars = regexp.MustCompile(`[_.\s]+`)

// reservedChars matches any remaining character outside [a-z0-9-]; replaced
// with "-" rather than dropped, so two distinct names never collide into the
// same normalized form by having their reserved characters vanish.
var reservedChars = regexp.MustCompile(`[^a-z0-9-]+`)

var repeatedDashes = regexp.MustCompile(`-+`)

// NormalizeIndexName lowercases name and replaces reserved characters with
// "-": max 128 chars, cannot start/end with "-".
func NormalizeIndexName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = nonNameChars.ReplaceAllString(n, "-")
	n = reservedChars.ReplaceAllString(n, "-")
	n = repeatedDashes.ReplaceAllString(n, "-")
	n = strings.Trim(n, "-")
	if n == "" {
		return "", NewValidationError("index", name, ErrIndexNameEmpty)
	}
	if len(n) > 128 {
		return "", NewValidationError("index", name, ErrIndexNameTooLong)
	}
	return n, nil
}

// DefaultIndexName is the reserved index that cannot be deleted.
const DefaultIndexName = "default"

// IsReservedIndexName reports whether the normalized name is "default".
func IsReservedIndexName(normalized string) bool {
	return normalized == DefaultIndexName
}

// reservedQueuePrefixes are broker-reserved; queue names must not start with
// any of these once normalized.
var reservedQueuePrefixes = []string{"$", "sys", "_sys"}

// NormalizeQueueName lowercases name and replaces "_ . space" with "-", per
// queue name ≤ 63 chars; the caller applies a further length check to
// any poison-suffixed variant.
func NormalizeQueueName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = nonNameChars.ReplaceAllString(n, "-")
	if len(n) > 63 {
		return "", NewValidationError("queue", name, ErrQueueNameTooLong)
	}
	for _, p := range reservedQueuePrefixes {
		if strings.HasPrefix(n, p) {
			return "", NewValidationError("queue", name, ErrQueueNameReserved)
		}
	}
	return n, nil
}

// ValidateTags rejects any key or value containing the reserved separator.
func ValidateTags(tags Tags) error {
	for k, values := range tags {
		if strings.Contains(k, TagSeparator) {
			return NewValidationError("tags", k, ErrReservedSeparator)
		}
		for _, v := range values {
			if strings.Contains(v, TagSeparator) {
				return NewValidationError("tags", v, ErrReservedSeparator)
			}
		}
	}
	return nil
}

// ValidateUpload rejects an empty upload (no files, no steps implying text).
func ValidateUpload(u DocumentUpload) error {
	if len(u.Files) == 0 {
		return NewValidationError("files", "", ErrEmptyUpload)
	}
	for _, f := range u.Files {
		if len(f.Bytes) == 0 {
			return NewValidationError("files", f.Name, ErrEmptyUpload)
		}
	}
	return ValidateTags(u.Tags)
}
