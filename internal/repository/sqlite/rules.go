package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/rule"
)

const ruleColumns = `seq, id, organization_id, name, category, priority, status, conditions, actions,
	execution_count, success_count, error_count, created_at, updated_at`

// Rules persists rules. The rowid sequence orders rules created in the same instant.
type Rules struct {
	db *sql.DB
}

// Create inserts r and returns it with its assigned sequence.
func (r *Rules) Create(ctx context.Context, x rule.Rule) (rule.Rule, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO rules (id, organization_id, name, category, priority, status, conditions, actions,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		x.ID(), x.OrganizationID(), x.Name(), x.Category(), x.Priority(), string(x.Status()),
		string(x.Conditions()), string(x.Actions()), formatTime(x.CreatedAt()), formatTime(x.UpdatedAt()))
	if err != nil {
		if isUniqueViolation(err) {
			return rule.Rule{}, domain.ErrAlreadyExists
		}
		return rule.Rule{}, fmt.Errorf("inserting rule: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return rule.Rule{}, fmt.Errorf("reading rule sequence: %w", err)
	}
	return x.WithSequence(seq), nil
}

// Get returns a rule of org.
func (r *Rules) Get(ctx context.Context, org, id string) (rule.Rule, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM rules WHERE organization_id = ? AND id = ?", org, id)
	x, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rule.Rule{}, domain.ErrNotFound
	}
	return x, err
}

// Update writes the editable attributes of x. Statistics and sequence are untouched.
func (r *Rules) Update(ctx context.Context, x rule.Rule) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE rules SET name = ?, category = ?, priority = ?, status = ?, conditions = ?, actions = ?,
			updated_at = ?
		WHERE organization_id = ? AND id = ?`,
		x.Name(), x.Category(), x.Priority(), string(x.Status()), string(x.Conditions()), string(x.Actions()),
		formatTime(x.UpdatedAt()), x.OrganizationID(), x.ID())
	if err != nil {
		return fmt.Errorf("updating rule: %w", err)
	}
	return expectOne(res)
}

// Delete removes a rule of org.
func (r *Rules) Delete(ctx context.Context, org, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM rules WHERE organization_id = ? AND id = ?", org, id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	return expectOne(res)
}

// List returns the rules of org in insertion order.
func (r *Rules) List(ctx context.Context, org string) ([]rule.Rule, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+ruleColumns+" FROM rules WHERE organization_id = ? ORDER BY seq", org)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	defer rows.Close()

	var out []rule.Rule
	for rows.Next() {
		x, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

// ApplyStats adds deltas in one transaction.
func (r *Rules) ApplyStats(ctx context.Context, org string, deltas []rule.StatsDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stats batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE rules SET execution_count = execution_count + ?, success_count = success_count + ?,
			error_count = error_count + ?
		WHERE organization_id = ? AND id = ?`)
	if err != nil {
		return fmt.Errorf("preparing stats update: %w", err)
	}
	defer stmt.Close()

	for _, d := range deltas {
		if _, err := stmt.ExecContext(ctx, d.Executions, d.Successes, d.Errors, org, d.RuleID); err != nil {
			return fmt.Errorf("updating stats of rule %s: %w", d.RuleID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stats batch: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (rule.Rule, error) {
	var (
		seq                     int64
		id, org, name, category string
		priority                int
		status, conds, actions  string
		stats                   rule.Stats
		createdAt, updatedAt    string
	)
	if err := s.Scan(&seq, &id, &org, &name, &category, &priority, &status, &conds, &actions,
		&stats.Executions, &stats.Successes, &stats.Errors, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rule.Rule{}, err
		}
		return rule.Rule{}, fmt.Errorf("scanning rule: %w", err)
	}
	return rule.Reconstruct(id, org, name, category, priority, rule.Status(status),
		json.RawMessage(conds), json.RawMessage(actions), stats, seq,
		parseTime(createdAt), parseTime(updatedAt)), nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
