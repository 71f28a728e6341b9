// Package datanorm canonicalizes email addresses and maps inbound CSV
// headers onto the fields the growth engine understands.
//
// Normalize is the only way an address may reach the ledger. Raw strings
// are never compared directly; callers compare DedupKey values.
package datanorm

import (
	"fmt"
	"strings"
	"unicode"
)

const maxAddressLen = 254

// Normalize trims raw, validates it and lowercases the domain part. The
// local part keeps its case. Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidFormat)
	}
	if len(v) > maxAddressLen {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidFormat, maxAddressLen)
	}
	if strings.IndexFunc(v, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: contains whitespace", ErrInvalidFormat)
	}
	if n := strings.Count(v, "@"); n != 1 {
		return "", fmt.Errorf("%w: expected exactly one @, found %d", ErrInvalidFormat, n)
	}

	local, domain, _ := strings.Cut(v, "@")
	if local == "" {
		return "", fmt.Errorf("%w: empty local part", ErrInvalidFormat)
	}
	if domain == "" {
		return "", fmt.Errorf("%w: empty domain", ErrInvalidFormat)
	}
	if !strings.Contains(domain, ".") {
		return "", fmt.Errorf("%w: domain %q has no dot", ErrInvalidFormat, domain)
	}
	for _, label := range strings.Split(domain, ".") {
		if label == "" {
			return "", fmt.Errorf("%w: domain %q has an empty label", ErrInvalidFormat, domain)
		}
	}

	return local + "@" + strings.ToLower(domain), nil
}

// DedupKey is the identity of an address inside a repository: the whole
// canonical address lowercased.
func DedupKey(canonical string) string {
	return strings.ToLower(canonical)
}

// Domain returns the lowercased domain of an address, or "" if it has none.
func Domain(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}

// MatchesDomain reports whether domain equals pattern or is a subdomain of
// it. Both sides are compared case-insensitively; a leading "@" or "." on the
// pattern is ignored.
func MatchesDomain(domain, pattern string) bool {
	d := strings.ToLower(strings.TrimSpace(domain))
	p := strings.ToLower(strings.TrimSpace(pattern))
	p = strings.TrimLeft(p, "@.")
	if d == "" || p == "" {
		return false
	}
	return d == p || strings.HasSuffix(d, "."+p)
}

// LooksLikeEmail is a cheap shape check used to sniff headerless files.
func LooksLikeEmail(val string) bool {
	_, err := Normalize(val)
	return err == nil
}
