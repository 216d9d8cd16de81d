// Package entity describes the business content submitted for classification
// and indexing.
package entity

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/domainlist"
)

// Common entity types. Any non-empty type is accepted.
const (
	TypeEmail    = "email"
	TypeDocument = "document"
	TypeOffer    = "offer"
)

var idRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,127}$`)

// Entity is one piece of business content.
type Entity struct {
	ID             string             `json:"id"`
	OrganizationID string             `json:"organization_id"`
	Type           string             `json:"type"`
	Source         string             `json:"source,omitempty"`
	Sender         string             `json:"sender,omitempty"`
	Recipients     []string           `json:"recipients,omitempty"`
	Subject        string             `json:"subject,omitempty"`
	Content        string             `json:"content"`
	Filename       string             `json:"filename,omitempty"`
	Fields         map[string]string  `json:"fields,omitempty"`
	Numerics       map[string]float64 `json:"numerics,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Validate checks required attributes. Ids must be safe to embed in record
// keys, so ":" and whitespace are rejected.
func (e *Entity) Validate() error {
	if err := domain.CheckOrganization(e.OrganizationID); err != nil {
		return err
	}
	if !idRe.MatchString(e.ID) {
		return fmt.Errorf("%w: entity id %q must match %s", domain.ErrInvalidInput, e.ID, idRe.String())
	}
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("%w: entity type is required", domain.ErrInvalidInput)
	}
	return nil
}

// ValidID reports whether id is acceptable as an entity id.
func ValidID(id string) bool { return idRe.MatchString(id) }

// Normalize fills defaults: lower-case type and a creation time.
func (e *Entity) Normalize(now time.Time) {
	e.Type = strings.ToLower(strings.TrimSpace(e.Type))
	e.Source = strings.TrimSpace(e.Source)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
}

// Domain returns the sender domain, falling back to fields["domain"].
func (e *Entity) Domain() string {
	if d := domainlist.DomainOf(e.Sender); d != "" && strings.Contains(e.Sender, "@") {
		return d
	}
	return domainlist.NormalizeDomain(e.Fields["domain"])
}

// Text returns a named text attribute. Built-in names take precedence over
// Fields entries.
func (e *Entity) Text(field string) (string, bool) {
	switch field {
	case "id":
		return e.ID, true
	case "type":
		return e.Type, true
	case "source":
		return e.Source, e.Source != ""
	case "sender":
		return e.Sender, e.Sender != ""
	case "sender_domain", "domain":
		d := e.Domain()
		return d, d != ""
	case "recipients":
		return strings.Join(e.Recipients, ", "), len(e.Recipients) > 0
	case "subject":
		return e.Subject, e.Subject != ""
	case "content", "body":
		return e.Content, true
	case "filename":
		return e.Filename, e.Filename != ""
	}
	v, ok := e.Fields[field]
	return v, ok
}

// Number returns a numeric attribute, parsing text fields when needed.
func (e *Entity) Number(field string) (float64, bool) {
	if v, ok := e.Numerics[field]; ok {
		return v, true
	}
	if s, ok := e.Fields[field]; ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// SearchableText joins subject, content and custom text fields.
func (e *Entity) SearchableText() string {
	var b strings.Builder
	if e.Subject != "" {
		b.WriteString(e.Subject)
		b.WriteByte('\n')
	}
	b.WriteString(e.Content)
	for _, k := range sortedKeys(e.Fields) {
		b.WriteByte('\n')
		b.WriteString(e.Fields[k])
	}
	return b.String()
}

// IndexText is the text chunked for retrieval: subject header followed by content.
func (e *Entity) IndexText() string {
	if e.Subject == "" {
		return e.Content
	}
	return e.Subject + "\n\n" + e.Content
}

// ClassifierInput projects the entity onto what the AI classifier sees.
func (e *Entity) ClassifierInput(categories []string) domain.ClassifierInput {
	return domain.ClassifierInput{
		EntityType: e.Type,
		Sender:     e.Sender,
		Subject:    e.Subject,
		Content:    e.Content,
		Categories: categories,
	}
}
