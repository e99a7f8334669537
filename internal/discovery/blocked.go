package discovery

import (
	"context"
	"strings"

	"pacts/internal/driver"
)

// BlockedDetector recognizes anti-bot interstitials. The returned
// signature names the matched pattern for the run record.
type BlockedDetector interface {
	Detect(ctx context.Context, drv driver.API) (signature string, blocked bool)
}

// SignatureDetector matches the page against URL substrings and DOM
// selectors. Patterns extend through configuration.
type SignatureDetector struct {
	URLSubstrings []string
	DOMSelectors  []string
}

// NewSignatureDetector returns a detector with the default challenge
// signatures plus any extras.
func NewSignatureDetector(extraURL, extraDOM []string) *SignatureDetector {
	return &SignatureDetector{
		URLSubstrings: append([]string{"chal_t="}, extraURL...),
		DOMSelectors:  append([]string{".g-recaptcha"}, extraDOM...),
	}
}

// Detect checks URL substrings first (one round trip), then DOM selectors.
func (d *SignatureDetector) Detect(ctx context.Context, drv driver.API) (string, bool) {
	if raw, err := drv.URL(ctx); err == nil {
		for _, sub := range d.URLSubstrings {
			if sub != "" && strings.Contains(raw, sub) {
				return "url:" + sub, true
			}
		}
	}
	for _, sel := range d.DOMSelectors {
		if sel == "" {
			continue
		}
		if n, err := drv.Count(ctx, sel, ""); err == nil && n > 0 {
			return "dom:" + sel, true
		}
	}
	return "", false
}
