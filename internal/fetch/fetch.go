// Package fetch implements the escalating fetch gateway: direct HTTP first,
// then a rendering/anti-bot gateway, then a headless browser session.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Tier is one strategy level in the escalation ladder, cheapest first.
type Tier int

const (
	TierDirect Tier = iota
	TierGateway
	TierHeadless
)

func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierGateway:
		return "gateway"
	case TierHeadless:
		return "headless"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ErrorKind classifies a fetch failure.
type ErrorKind string

const (
	KindDNSFailure   ErrorKind = "dns_failure"
	KindTimeout      ErrorKind = "timeout"
	KindForbidden    ErrorKind = "forbidden"
	KindTLSError     ErrorKind = "tls_error"
	KindBotChallenge ErrorKind = "bot_challenge"
)

// FetchError is the typed failure surfaced by the gateway. It only escapes
// the gateway once every applicable tier has been exhausted.
type FetchError struct {
	Kind ErrorKind
	URL  string
	Tier Tier
	Err  error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s (%s)", e.URL, e.Kind, e.Tier)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// rateLimitError is internal to the gateway: a 429/503 response that should
// grow the host delay and be retried on the same tier, never escalated.
type rateLimitError struct {
	statusCode int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited: status %d", e.statusCode)
}

// Hints carries per-request guidance from the scrape config down to the
// fetchers. Only the headless tier interprets the interaction fields.
type Hints struct {
	RequiresJS     bool
	ScrollToBottom bool
	WaitSelector   string
	ClickSelector  string
	MaxClicks      int
}

// Result is a fetched page body plus the tier that produced it.
type Result struct {
	Body       []byte
	StatusCode int
	Tier       Tier
	FinalURL   string
}

// Fetcher is one tier of the escalation ladder.
type Fetcher interface {
	Fetch(ctx context.Context, url string, hints Hints) (*Result, error)
	Name() string
	Tier() Tier
}

// classify maps a transport-level error onto an ErrorKind.
func classify(err error) ErrorKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNSFailure
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return KindTLSError
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return KindTLSError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such host"),
		strings.Contains(msg, "name resolution"):
		return KindDNSFailure
	case strings.Contains(msg, "tls"), strings.Contains(msg, "x509"):
		return KindTLSError
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return KindTimeout
	}
	return KindForbidden
}
