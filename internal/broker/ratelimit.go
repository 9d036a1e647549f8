package broker

import "time"

// RateLimiter holds the configured timing knobs for the screenshot rate
// limit (§4.4's "Screenshot rate limit" paragraph). The actual per-bridge
// clock lives on Session.lastScreenshotAt (TryScreenshot); this type exists
// so the configured interval travels with the router rather than being a
// bare time.Duration threaded through call sites.
type RateLimiter struct {
	screenshotMinInterval time.Duration
}

func NewRateLimiter(screenshotMinInterval time.Duration) *RateLimiter {
	return &RateLimiter{screenshotMinInterval: screenshotMinInterval}
}
