// Package domainlist models per-organization sender domain lists.
package domainlist

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"
)

// ListType is the list a domain pattern belongs to.
type ListType string

// Supported list types.
const (
	Blacklist ListType = "BLACKLIST"
	Whitelist ListType = "WHITELIST"
	VIP       ListType = "VIP"
)

// ParseListType validates a list type, case-insensitively.
func ParseListType(s string) (ListType, error) {
	switch lt := ListType(strings.ToUpper(strings.TrimSpace(s))); lt {
	case Blacklist, Whitelist, VIP:
		return lt, nil
	default:
		return "", fmt.Errorf("unknown list type %q", s)
	}
}

// Entry is a single domain pattern on one list of one organization.
type Entry struct {
	id             string
	organizationID string
	pattern        string
	listType       ListType
	reason         string
	createdAt      time.Time
}

// New validates and creates an Entry. The pattern is normalized: trimmed,
// lower-cased, with a leading "@" removed.
func New(id, organizationID, pattern string, listType ListType, reason string, createdAt time.Time) (Entry, error) {
	if id == "" {
		return Entry{}, fmt.Errorf("entry id is required")
	}
	if organizationID == "" {
		return Entry{}, fmt.Errorf("organization id is required")
	}
	p, err := NormalizePattern(pattern)
	if err != nil {
		return Entry{}, err
	}
	if _, err := ParseListType(string(listType)); err != nil {
		return Entry{}, err
	}
	return Entry{
		id:             id,
		organizationID: organizationID,
		pattern:        p,
		listType:       listType,
		reason:         strings.TrimSpace(reason),
		createdAt:      createdAt.UTC(),
	}, nil
}

// Reconstruct rebuilds an Entry from storage without validation.
func Reconstruct(id, organizationID, pattern string, listType ListType, reason string, createdAt time.Time) Entry {
	return Entry{
		id:             id,
		organizationID: organizationID,
		pattern:        pattern,
		listType:       listType,
		reason:         reason,
		createdAt:      createdAt,
	}
}

// ID returns the entry id.
func (e Entry) ID() string { return e.id }

// OrganizationID returns the owning organization.
func (e Entry) OrganizationID() string { return e.organizationID }

// Pattern returns the normalized domain pattern.
func (e Entry) Pattern() string { return e.pattern }

// ListType returns the list the entry belongs to.
func (e Entry) ListType() ListType { return e.listType }

// Reason returns the optional free-text reason.
func (e Entry) Reason() string { return e.reason }

// CreatedAt returns the creation time.
func (e Entry) CreatedAt() time.Time { return e.createdAt }

// Matches reports whether domain is covered by the entry pattern.
func (e Entry) Matches(domain string) bool {
	return MatchPattern(e.pattern, NormalizeDomain(domain))
}

// NormalizePattern trims, lower-cases and validates a domain pattern.
func NormalizePattern(pattern string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(pattern))
	p = strings.TrimPrefix(p, "@")
	p = strings.TrimSuffix(p, ".")
	if p == "" {
		return "", fmt.Errorf("domain pattern is required")
	}
	if strings.IndexFunc(p, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("domain pattern %q must not contain whitespace", pattern)
	}
	if strings.ContainsAny(p, "/@") {
		return "", fmt.Errorf("domain pattern %q contains invalid characters", pattern)
	}
	if _, err := path.Match(p, ""); err != nil {
		return "", fmt.Errorf("domain pattern %q: %w", pattern, err)
	}
	return p, nil
}

// NormalizeDomain lower-cases a domain and strips a leading "@" and trailing dot.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "@")
	return strings.TrimSuffix(d, ".")
}

// DomainOf extracts the domain part of an e-mail address, or returns the input
// normalized when it carries no "@".
func DomainOf(address string) string {
	a := strings.TrimSpace(address)
	if i := strings.LastIndexByte(a, '@'); i >= 0 {
		a = a[i+1:]
	}
	return NormalizeDomain(strings.Trim(a, "<> "))
}

// MatchPattern matches a normalized domain against a normalized pattern.
// "*.example.com" covers every subdomain of example.com but not example.com itself;
// other patterns use shell glob semantics and match exactly otherwise.
func MatchPattern(pattern, domain string) bool {
	if domain == "" {
		return false
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok && !strings.ContainsAny(suffix, "*?[") {
		return strings.HasSuffix(domain, "."+suffix)
	}
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == domain
	}
	ok, err := path.Match(pattern, domain)
	return err == nil && ok
}

// Membership is the set of lists a domain appears on.
type Membership map[ListType]bool

// Has reports whether the membership includes lt.
func (m Membership) Has(lt ListType) bool { return m[lt] }

// Types returns member list types in a stable order.
func (m Membership) Types() []ListType {
	var out []ListType
	for _, lt := range []ListType{Blacklist, Whitelist, VIP} {
		if m[lt] {
			out = append(out, lt)
		}
	}
	return out
}

// Resolve computes the membership of domain against entries.
func Resolve(entries []Entry, domain string) Membership {
	d := NormalizeDomain(domain)
	m := Membership{}
	for _, e := range entries {
		if MatchPattern(e.pattern, d) {
			m[e.listType] = true
		}
	}
	return m
}
