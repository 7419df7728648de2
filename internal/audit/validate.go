package audit

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	maxDomainLength = 253
	maxEmailLength  = 254

	// MaxTimestampSkew bounds how far a client timestamp may drift from server time.
	MaxTimestampSkew = 5 * time.Minute
)

var (
	domainPattern = regexp.MustCompile(`^(https?://)?([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)
	emailPattern  = regexp.MustCompile(
		"^[a-z0-9!#$%&'*+/=?^_`{|}~-]+(?:\\.[a-z0-9!#$%&'*+/=?^_`{|}~-]+)*" +
			"@(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\\.)+[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$",
	)

	domainForbidden = []string{"<", ">", `"`, "'", "javascript:", "data:", "file:", "ftp:"}
	emailForbidden  = []string{"<", ">", `"`, "'", "script", "javascript:"}

	blockedHosts    = []string{"localhost", "127.0.0.1", "0.0.0.0", "::1"}
	blockedPrefixes = []string{"10.", "192.168.", "172.", "127."}
)

// NormalizeDomain lowercases a domain and strips scheme, credentials, port, path, query,
// fragment and trailing dots so that every cache key uses the same spelling.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	for _, scheme := range []string{"https://", "http://"} {
		d = strings.TrimPrefix(d, scheme)
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	if i := strings.LastIndex(d, ":"); i >= 0 && !strings.Contains(d[i+1:], ".") {
		d = d[:i]
	}
	return strings.TrimRight(d, ".")
}

// ValidateDomain checks a user-supplied domain and returns its normalized form.
// Injection characters, non-http schemes, local and private hosts are rejected.
func ValidateDomain(raw string) (string, error) {
	clean := strings.ToLower(strings.TrimSpace(raw))
	if clean == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDomain)
	}
	if len(clean) > maxDomainLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidDomain, maxDomainLength)
	}
	for _, bad := range domainForbidden {
		if strings.Contains(clean, bad) {
			return "", fmt.Errorf("%w: forbidden sequence %q", ErrInvalidDomain, bad)
		}
	}
	clean = strings.TrimRight(clean, "/")
	if !domainPattern.MatchString(clean) {
		return "", fmt.Errorf("%w: malformed", ErrInvalidDomain)
	}
	host := NormalizeDomain(clean)
	if isBlockedHost(host) {
		return "", fmt.Errorf("%w: local or private host", ErrInvalidDomain)
	}
	return host, nil
}

func isBlockedHost(host string) bool {
	for _, blocked := range blockedHosts {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	for _, prefix := range blockedPrefixes {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}
	return false
}

// ValidateEmail checks an email address and returns it trimmed and lowercased.
func ValidateEmail(raw string) (string, error) {
	clean := strings.ToLower(strings.TrimSpace(raw))
	if clean == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	for _, bad := range emailForbidden {
		if strings.Contains(clean, bad) {
			return "", fmt.Errorf("%w: forbidden sequence", ErrInvalidEmail)
		}
	}
	if len(clean) > maxEmailLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidEmail, maxEmailLength)
	}
	if !emailPattern.MatchString(clean) {
		return "", fmt.Errorf("%w: malformed", ErrInvalidEmail)
	}
	return clean, nil
}

// ValidateTimestamp rejects client timestamps (unix milliseconds) further than skew from now.
func ValidateTimestamp(unixMillis int64, now time.Time, skew time.Duration) error {
	if unixMillis <= 0 {
		return fmt.Errorf("%w: missing", ErrStaleTimestamp)
	}
	delta := now.Sub(time.UnixMilli(unixMillis))
	if delta < 0 {
		delta = -delta
	}
	if delta > skew {
		return fmt.Errorf("%w: off by %s", ErrStaleTimestamp, delta.Round(time.Second))
	}
	return nil
}
