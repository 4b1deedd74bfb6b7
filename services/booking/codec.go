package booking

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"clinsched/models"
)

// EncodeDraft serializes a draft into the opaque blob appended to the return
// URL of an identity-verification redirect. The blob carries the lock ID and
// session token, never credentials.
func EncodeDraft(draft models.BookingDraft) (string, error) {
	data, err := json.Marshal(draft)
	if err != nil {
		return "", fmt.Errorf("failed to encode booking draft: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeDraft parses a redirect blob back into a draft. Callers must treat a
// failure as "no draft came back" and degrade, never as a fatal condition.
func DecodeDraft(blob string) (*models.BookingDraft, error) {
	if blob == "" {
		return nil, fmt.Errorf("empty draft blob")
	}
	data, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("malformed draft blob: %w", err)
	}
	var draft models.BookingDraft
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil, fmt.Errorf("malformed draft blob: %w", err)
	}
	return &draft, nil
}
