package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joshsymonds/inboxflow/internal/rules"
)

// CreateRule inserts a new rule for an account. Name must be unique within
// the account; the stored version starts at 1.
func (s *SQLiteStore) CreateRule(ctx context.Context, rule rules.Rule) (rules.Rule, error) {
	if err := rule.Validate(); err != nil {
		return rules.Rule{}, err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.Version = 1
	rule.CreatedAt = now
	rule.UpdatedAt = now

	conditions, actions, err := encodeRule(rule)
	if err != nil {
		return rules.Rule{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (
			id, account_id, name, enabled, run_on_threads, operator,
			conditions, actions, system_type, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.AccountID, rule.Name,
		boolToInt(rule.Enabled), boolToInt(rule.RunOnThreads), string(rule.Operator),
		conditions, actions, rule.SystemType, rule.Version, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return rules.Rule{}, fmt.Errorf("rule %q: %w", rule.Name, rules.ErrDuplicateName)
		}
		return rules.Rule{}, fmt.Errorf("creating rule %q: %w", rule.Name, err)
	}
	return rule, nil
}

// UpdateRule replaces a rule's definition. The caller's Version must match
// the stored one; a mismatch means someone else updated the rule first and
// the write is rejected with ErrStaleVersion.
func (s *SQLiteStore) UpdateRule(ctx context.Context, rule rules.Rule) (rules.Rule, error) {
	if err := rule.Validate(); err != nil {
		return rules.Rule{}, err
	}
	rule.UpdatedAt = time.Now().UTC()

	conditions, actions, err := encodeRule(rule)
	if err != nil {
		return rules.Rule{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE rules SET
			name = ?, enabled = ?, run_on_threads = ?, operator = ?,
			conditions = ?, actions = ?, system_type = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		rule.Name, boolToInt(rule.Enabled), boolToInt(rule.RunOnThreads), string(rule.Operator),
		conditions, actions, rule.SystemType, rule.UpdatedAt,
		rule.ID, rule.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return rules.Rule{}, fmt.Errorf("rule %q: %w", rule.Name, rules.ErrDuplicateName)
		}
		return rules.Rule{}, fmt.Errorf("updating rule %s: %w", rule.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Either the rule is gone or the version is stale; look to tell apart.
		var exists int
		if err := s.db.GetContext(ctx, &exists,
			"SELECT COUNT(*) FROM rules WHERE id = ?", rule.ID); err != nil {
			return rules.Rule{}, fmt.Errorf("checking rule %s: %w", rule.ID, err)
		}
		if exists == 0 {
			return rules.Rule{}, fmt.Errorf("rule %s: %w", rule.ID, rules.ErrNotFound)
		}
		return rules.Rule{}, fmt.Errorf("rule %s: %w", rule.ID, rules.ErrStaleVersion)
	}
	rule.Version++
	return rule, nil
}

// DeleteRule removes a rule by id.
func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting rule %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule %s: %w", id, rules.ErrNotFound)
	}
	return nil
}

// GetRule retrieves one rule by id.
func (s *SQLiteStore) GetRule(ctx context.Context, id string) (rules.Rule, error) {
	row := s.db.QueryRowxContext(ctx, "SELECT * FROM rules WHERE id = ?", id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rules.Rule{}, fmt.Errorf("rule %s: %w", id, rules.ErrNotFound)
	}
	if err != nil {
		return rules.Rule{}, fmt.Errorf("getting rule %s: %w", id, err)
	}
	return rule, nil
}

// ListRules returns an account's rules in creation order. The pipeline's
// first-match-wins semantics depend on this ordering being stable.
func (s *SQLiteStore) ListRules(ctx context.Context, accountID string) ([]rules.Rule, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM rules WHERE account_id = ? ORDER BY created_at, id", accountID)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// ListEnabledRules returns only the rules the pipeline should evaluate.
func (s *SQLiteStore) ListEnabledRules(ctx context.Context, accountID string) ([]rules.Rule, error) {
	all, err := s.ListRules(ctx, accountID)
	if err != nil {
		return nil, err
	}
	enabled := make([]rules.Rule, 0, len(all))
	for _, r := range all {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	return enabled, nil
}

func encodeRule(rule rules.Rule) (conditions, actions string, err error) {
	c, err := json.Marshal(rule.Conditions)
	if err != nil {
		return "", "", fmt.Errorf("marshaling conditions for rule %q: %w", rule.Name, err)
	}
	a, err := json.Marshal(rule.Actions)
	if err != nil {
		return "", "", fmt.Errorf("marshaling actions for rule %q: %w", rule.Name, err)
	}
	return string(c), string(a), nil
}

func scanRule(row interface{ Scan(dest ...interface{}) error }) (rules.Rule, error) {
	var (
		rule          rules.Rule
		enabled       int
		runOnThreads  int
		operator      string
		conditionsRaw string
		actionsRaw    string
	)
	err := row.Scan(
		&rule.ID, &rule.AccountID, &rule.Name, &enabled, &runOnThreads, &operator,
		&conditionsRaw, &actionsRaw, &rule.SystemType, &rule.Version,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rules.Rule{}, err
		}
		return rules.Rule{}, fmt.Errorf("scanning rule row: %w", err)
	}

	rule.Enabled = enabled != 0
	rule.RunOnThreads = runOnThreads != 0
	rule.Operator = rules.Operator(operator)
	if err := json.Unmarshal([]byte(conditionsRaw), &rule.Conditions); err != nil {
		return rules.Rule{}, fmt.Errorf("unmarshaling conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsRaw), &rule.Actions); err != nil {
		return rules.Rule{}, fmt.Errorf("unmarshaling actions: %w", err)
	}
	return rule, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
