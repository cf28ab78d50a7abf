package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
	"github.com/oshokin/alarm-pipeline/internal/logger"
)

const selectRulesQuery = `SELECT id, name, description, event_type, conditions, actions, enabled, priority, schedule
FROM automation_rules
ORDER BY priority, id`

// errBadDocument marks a row whose JSON columns do not decode.
var errBadDocument = errors.New("undecodable rule document")

// PostgresSource reads rules from the automation_rules table. Conditions,
// actions and schedule are JSON columns in the same document form rule files use.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource wraps an open database handle.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Load returns every stored rule, disabled ones included. Rows whose JSON
// columns do not decode are logged and skipped.
func (s *PostgresSource) Load(ctx context.Context) ([]rule.Rule, error) {
	rows, err := s.db.QueryContext(ctx, selectRulesQuery)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var result []rule.Rule

	for rows.Next() {
		r, err := scanRule(rows)
		if errors.Is(err, errBadDocument) {
			logger.WarnKV(ctx, "Skipping undecodable rule row", "rule_id", r.ID, "error", err)

			continue
		}

		if err != nil {
			return nil, err
		}

		result = append(result, r)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}

	return result, nil
}

func scanRule(rows *sql.Rows) (rule.Rule, error) {
	var (
		r           rule.Rule
		description sql.NullString
		eventType   string
		conditions  []byte
		actions     []byte
		schedule    []byte
	)

	err := rows.Scan(&r.ID, &r.Name, &description, &eventType,
		&conditions, &actions, &r.Enabled, &r.Priority, &schedule)
	if err != nil {
		return rule.Rule{}, fmt.Errorf("scan rule: %w", err)
	}

	r.Description = description.String
	r.EventType = event.Stream(eventType)

	if len(conditions) > 0 {
		if err = json.Unmarshal(conditions, &r.Conditions); err != nil {
			return rule.Rule{ID: r.ID}, fmt.Errorf("%w: conditions of rule %q: %w", errBadDocument, r.ID, err)
		}
	}

	if len(actions) > 0 {
		if err = json.Unmarshal(actions, &r.Actions); err != nil {
			return rule.Rule{ID: r.ID}, fmt.Errorf("%w: actions of rule %q: %w", errBadDocument, r.ID, err)
		}
	}

	if len(schedule) > 0 && string(schedule) != "null" {
		r.Schedule = new(rule.Schedule)
		if err = json.Unmarshal(schedule, r.Schedule); err != nil {
			return rule.Rule{ID: r.ID}, fmt.Errorf("%w: schedule of rule %q: %w", errBadDocument, r.ID, err)
		}
	}

	return r, nil
}
