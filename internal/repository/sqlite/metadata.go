package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/classification"
	"github.com/kailas-cloud/triage/internal/domain/domainlist"
)

// DomainLists persists domain list entries.
type DomainLists struct {
	db *sql.DB
}

// Add inserts e. The unique index on (organization, lower(pattern), list type)
// turns duplicates into domain.ErrAlreadyExists.
func (r *DomainLists) Add(ctx context.Context, e domainlist.Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO domain_lists (id, organization_id, pattern, list_type, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID(), e.OrganizationID(), e.Pattern(), string(e.ListType()), e.Reason(), formatTime(e.CreatedAt()))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("inserting domain list entry: %w", err)
	}
	return nil
}

// Remove deletes an entry of org.
func (r *DomainLists) Remove(ctx context.Context, org, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM domain_lists WHERE organization_id = ? AND id = ?", org, id)
	if err != nil {
		return fmt.Errorf("deleting domain list entry: %w", err)
	}
	return expectOne(res)
}

// List returns the entries of org ordered by creation.
func (r *DomainLists) List(ctx context.Context, org string) ([]domainlist.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, pattern, list_type, reason, created_at
		FROM domain_lists WHERE organization_id = ? ORDER BY created_at, id`, org)
	if err != nil {
		return nil, fmt.Errorf("listing domain lists: %w", err)
	}
	defer rows.Close()

	var out []domainlist.Entry
	for rows.Next() {
		var id, o, pattern, listType, reason, createdAt string
		if err := rows.Scan(&id, &o, &pattern, &listType, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning domain list entry: %w", err)
		}
		out = append(out, domainlist.Reconstruct(id, o, pattern, domainlist.ListType(listType), reason, parseTime(createdAt)))
	}
	return out, rows.Err()
}

// ClassificationLog persists classification results.
type ClassificationLog struct {
	db       *sql.DB
	capacity int
}

// Append inserts e and trims the organization's log to capacity.
func (l *ClassificationLog) Append(ctx context.Context, e classification.LogEntry) error {
	result, err := json.Marshal(e.Result)
	if err != nil {
		return fmt.Errorf("marshalling classification result: %w", err)
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin log append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO classification_log (id, organization_id, entity_id, entity_type, dry_run, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OrganizationID, e.EntityID, e.EntityType, e.DryRun, string(result), formatTime(e.CreatedAt)); err != nil {
		return fmt.Errorf("inserting classification log entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM classification_log
		WHERE organization_id = ? AND seq <= (
			SELECT seq FROM classification_log WHERE organization_id = ?
			ORDER BY seq DESC LIMIT 1 OFFSET ?
		)`, e.OrganizationID, e.OrganizationID, l.capacity); err != nil {
		return fmt.Errorf("trimming classification log: %w", err)
	}
	return tx.Commit()
}

// List returns up to limit entries of org, newest first.
func (l *ClassificationLog) List(ctx context.Context, org string, limit int) ([]classification.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, organization_id, entity_id, entity_type, dry_run, result, created_at
		FROM classification_log WHERE organization_id = ? ORDER BY seq DESC LIMIT ?`, org, limit)
	if err != nil {
		return nil, fmt.Errorf("listing classification log: %w", err)
	}
	defer rows.Close()

	var out []classification.LogEntry
	for rows.Next() {
		var (
			e         classification.LogEntry
			result    string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.EntityID, &e.EntityType, &e.DryRun, &result, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning classification log entry: %w", err)
		}
		if err := json.Unmarshal([]byte(result), &e.Result); err != nil {
			return nil, fmt.Errorf("decoding classification result: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
