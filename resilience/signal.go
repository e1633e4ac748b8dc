package resilience

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/humanpace/htmlscan"
	"github.com/hazyhaar/humanpace/page"
)

// Signal classifies a detection event.
type Signal int

const (
	SignalNone Signal = iota
	RateLimited
	SoftBlocked
	CaptchaPresented
	TransientNetworkError
)

func (s Signal) String() string {
	switch s {
	case SignalNone:
		return "none"
	case RateLimited:
		return "rate_limited"
	case SoftBlocked:
		return "soft_blocked"
	case CaptchaPresented:
		return "captcha_presented"
	case TransientNetworkError:
		return "transient_network_error"
	}
	return "signal(" + strconv.Itoa(int(s)) + ")"
}

// FailureSignal is one observed detection event.
type FailureSignal struct {
	Kind   Signal
	At     time.Time
	Reason string // what matched, e.g. "status 429" or `marker "ip blocked"`

	// RetryAfter is the server's requested wait when a parseable
	// retry-after header was present.
	RetryAfter    time.Duration
	HasRetryAfter bool
}

var (
	softBlockMarkers = []string{"access denied", "ip blocked"}
	rateLimitMarkers = []string{"too many requests", "rate limit", "please try again later", "service unavailable"}
)

// Detect inspects a snapshot for block signals. CAPTCHA walls win over soft
// blocks, which win over rate limits.
func Detect(snap page.Snapshot, now time.Time) (FailureSignal, bool) {
	sig := FailureSignal{At: now}

	retryAfter, hasRetryAfter := snap.Header("retry-after")
	if hasRetryAfter {
		sig.RetryAfter, sig.HasRetryAfter = parseRetryAfter(retryAfter, now)
	}

	var text string
	var captcha, bareBody bool
	if doc, err := htmlscan.Parse(snap.Content); err == nil {
		text = doc.Text()
		captcha = doc.HasCaptcha()
		bareBody = doc.BodyIs("Too Many Requests")
	} else {
		text = strings.ToLower(snap.Content)
	}

	switch {
	case captcha:
		sig.Kind, sig.Reason = CaptchaPresented, "captcha widget"
		return sig, true
	case snap.HasStatus && (snap.Status == http.StatusTooManyRequests || snap.Status == http.StatusServiceUnavailable):
		sig.Kind, sig.Reason = RateLimited, "status "+strconv.Itoa(snap.Status)
		return sig, true
	case hasRetryAfter:
		sig.Kind, sig.Reason = RateLimited, "retry-after header"
		return sig, true
	case bareBody:
		sig.Kind, sig.Reason = RateLimited, "bare Too Many Requests body"
		return sig, true
	}
	for _, m := range softBlockMarkers {
		if strings.Contains(text, m) {
			sig.Kind, sig.Reason = SoftBlocked, strconv.Quote(m)
			return sig, true
		}
	}
	for _, m := range rateLimitMarkers {
		if strings.Contains(text, m) {
			sig.Kind, sig.Reason = RateLimited, strconv.Quote(m)
			return sig, true
		}
	}
	return FailureSignal{}, false
}

// retryAfterCeiling bounds parsed retry-after values so absurd headers
// cannot overflow a Duration.
const retryAfterCeiling = 24 * time.Hour

// parseRetryAfter accepts delta-seconds (fractions tolerated) or an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) {
			return 0, false
		}
		if secs >= retryAfterCeiling.Seconds() {
			return retryAfterCeiling, true
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if t, err := http.ParseTime(v); err == nil {
		return min(max(t.Sub(now), 0), retryAfterCeiling), true
	}
	return 0, false
}
