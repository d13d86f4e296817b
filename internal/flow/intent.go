package flow

import (
	"context"
	"log/slog"
	"strings"
)

// IntentClassifier detects booking intent in a backend reply. The
// classifier is pluggable: the keyword classifier below is the default,
// and internal/genai provides an OpenAI-backed implementation.
type IntentClassifier interface {
	// DetectBookingIntent reports whether the reply (with the last user
	// utterance as extra context) invites the lead to schedule an appointment.
	DetectBookingIntent(ctx context.Context, replyContent, lastUserUtterance string) (bool, error)
}

// defaultBookingKeywords are phrases an assistant reply uses when steering
// toward scheduling.
var defaultBookingKeywords = []string{
	"schedule",
	"appointment",
	"book a",
	"booking",
	"available times",
	"time slot",
	"calendar",
	"come in",
	"consultation",
	"pick a time",
}

// KeywordIntentClassifier detects booking intent with a case-insensitive
// substring scan over a fixed phrase list.
type KeywordIntentClassifier struct {
	keywords []string
}

// NewKeywordIntentClassifier creates a classifier with the default phrase
// list, or with the provided phrases if any are given.
func NewKeywordIntentClassifier(keywords ...string) *KeywordIntentClassifier {
	if len(keywords) == 0 {
		keywords = defaultBookingKeywords
	}
	return &KeywordIntentClassifier{keywords: keywords}
}

// DetectBookingIntent scans the reply content, then the last user
// utterance, for any known booking phrase.
func (c *KeywordIntentClassifier) DetectBookingIntent(ctx context.Context, replyContent, lastUserUtterance string) (bool, error) {
	reply := strings.ToLower(replyContent)
	utterance := strings.ToLower(lastUserUtterance)

	for _, kw := range c.keywords {
		if strings.Contains(reply, kw) || strings.Contains(utterance, kw) {
			slog.Debug("KeywordIntentClassifier matched", "keyword", kw)
			return true, nil
		}
	}
	return false, nil
}
