// Package record defines the vector records stored for retrieval.
package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Metadata describes the entity a record was produced from.
type Metadata struct {
	Type           string    `json:"type"`
	EntityID       string    `json:"entity_id"`
	EntityType     string    `json:"entity_type"`
	OrganizationID string    `json:"organization_id"`
	Source         string    `json:"source,omitempty"`
	Importance     int       `json:"importance"`
	Tags           []string  `json:"tags,omitempty"`
	Class          string    `json:"class,omitempty"`
	Section        string    `json:"section,omitempty"`
	Part           string    `json:"part,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Record is one embedded chunk of an entity.
type Record struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	Metadata  Metadata  `json:"metadata"`
}

// ID builds the deterministic record id for a chunk of an entity.
func ID(entityID string, chunkIndex int) string {
	return entityID + ":" + strconv.Itoa(chunkIndex)
}

// ParseID splits a record id into entity id and chunk index.
func ParseID(id string) (string, int, error) {
	i := strings.LastIndexByte(id, ':')
	if i <= 0 {
		return "", 0, fmt.Errorf("record id %q has no chunk index", id)
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("record id %q has invalid chunk index", id)
	}
	return id[:i], n, nil
}

// Validate checks that a record can be stored.
func (r *Record) Validate() error {
	if r.Metadata.OrganizationID == "" {
		return fmt.Errorf("record %s: organization id is required", r.ID)
	}
	if r.Metadata.EntityID == "" {
		return fmt.Errorf("record %s: entity id is required", r.ID)
	}
	if entityID, _, err := ParseID(r.ID); err != nil || entityID != r.Metadata.EntityID {
		return fmt.Errorf("record id %q does not belong to entity %q", r.ID, r.Metadata.EntityID)
	}
	if len(r.Embedding) == 0 {
		return fmt.Errorf("record %s: embedding is required", r.ID)
	}
	return nil
}

// Hit is a search result.
type Hit struct {
	Record     Record  `json:"record"`
	Similarity float64 `json:"similarity"`
}

// Stats summarizes the records of one organization.
type Stats struct {
	Total         int            `json:"total"`
	Entities      int            `json:"entities"`
	CountByType   map[string]int `json:"count_by_type"`
	AvgImportance float64        `json:"avg_importance"`
}

// Accumulate folds records into stats. Call Finish once all records are added.
type Accumulate struct {
	stats      Stats
	entities   map[string]struct{}
	importance int
}

// NewAccumulate starts an empty accumulation.
func NewAccumulate() *Accumulate {
	return &Accumulate{
		stats:    Stats{CountByType: map[string]int{}},
		entities: map[string]struct{}{},
	}
}

// Add counts one record.
func (a *Accumulate) Add(m Metadata) {
	a.stats.Total++
	a.stats.CountByType[m.Type]++
	a.importance += m.Importance
	a.entities[m.EntityID] = struct{}{}
}

// Finish returns the summary.
func (a *Accumulate) Finish() Stats {
	s := a.stats
	s.Entities = len(a.entities)
	if s.Total > 0 {
		s.AvgImportance = float64(a.importance) / float64(s.Total)
	}
	return s
}
