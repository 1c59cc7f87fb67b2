package stores

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// maxFields is the widest rule the table can hold (v0..v5).
const maxFields = 6

// SQLAdapter persists rules in a SQL table via squealx. One row per rule,
// unused value columns stored as empty strings.
type SQLAdapter struct {
	db       *squealx.DB
	filtered bool
}

// NewSQLAdapter runs migrations and returns the adapter.
func NewSQLAdapter(db *squealx.DB) (*SQLAdapter, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &SQLAdapter{db: db}, nil
}

func padFields(fields []string) ([]string, error) {
	if len(fields) > maxFields {
		return nil, fmt.Errorf("rule has %d fields, table holds at most %d", len(fields), maxFields)
	}
	padded := make([]string, maxFields)
	copy(padded, fields)
	return padded, nil
}

func trimFields(fields []string) []string {
	end := len(fields)
	for end > 0 && fields[end-1] == "" {
		end--
	}
	return fields[:end]
}

func ruleParams(sec, ptype string, padded []string) map[string]any {
	return map[string]any{
		"sec":        sec,
		"ptype":      ptype,
		"v0":         padded[0],
		"v1":         padded[1],
		"v2":         padded[2],
		"v3":         padded[3],
		"v4":         padded[4],
		"v5":         padded[5],
		"created_at": time.Now(),
	}
}

const insertRule = `INSERT INTO permit_rules(sec, ptype, v0, v1, v2, v3, v4, v5, created_at)
VALUES(:sec, :ptype, :v0, :v1, :v2, :v3, :v4, :v5, :created_at)`

func (a *SQLAdapter) LoadPolicy(m *permit.Model) error {
	a.filtered = false
	return a.load(m, nil)
}

// LoadFilteredPolicy loads only the rows the filter selects. Filtering
// happens after the scan so pattern columns stay comparable as plain
// strings.
func (a *SQLAdapter) LoadFilteredPolicy(m *permit.Model, filter permit.Filter) error {
	if err := a.load(m, filter); err != nil {
		return err
	}
	a.filtered = true
	return nil
}

func (a *SQLAdapter) IsFiltered() bool { return a.filtered }

func (a *SQLAdapter) load(m *permit.Model, filter permit.Filter) error {
	ctx := context.Background()
	q := `SELECT sec, ptype, v0, v1, v2, v3, v4, v5 FROM permit_rules ORDER BY id`
	rows, err := a.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sec, ptype string
		padded := make([]string, maxFields)
		if err := rows.Scan(&sec, &ptype, &padded[0], &padded[1], &padded[2], &padded[3], &padded[4], &padded[5]); err != nil {
			return err
		}
		fields := trimFields(padded)
		if filter != nil {
			r := storedRule{sec: sec, ptype: ptype, fields: fields}
			if values, ok := filter[ptype]; ok && !r.matchesFilter(0, values) {
				continue
			}
		}
		if err := m.AddRow(sec, ptype, fields); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SavePolicy truncates the table and writes the model's rows back.
func (a *SQLAdapter) SavePolicy(m *permit.Model) error {
	ctx := context.Background()
	if _, err := a.db.ExecContext(ctx, `DELETE FROM permit_rules`); err != nil {
		return fmt.Errorf("truncate rules: %w", err)
	}
	for _, sec := range []string{"p", "g"} {
		for _, ptype := range m.Keys(sec) {
			for _, fields := range m.Rows(sec, ptype) {
				padded, err := padFields(fields)
				if err != nil {
					return err
				}
				if _, err := a.db.NamedExecContext(ctx, insertRule, ruleParams(sec, ptype, padded)); err != nil {
					return fmt.Errorf("save rule: %w", err)
				}
			}
		}
	}
	return nil
}

func (a *SQLAdapter) AddPolicy(sec, ptype string, rule []string) error {
	padded, err := padFields(rule)
	if err != nil {
		return err
	}
	_, err = a.db.NamedExecContext(context.Background(), insertRule, ruleParams(sec, ptype, padded))
	return err
}

func (a *SQLAdapter) AddPolicies(sec, ptype string, rules [][]string) error {
	for _, rule := range rules {
		if err := a.AddPolicy(sec, ptype, rule); err != nil {
			return err
		}
	}
	return nil
}

func (a *SQLAdapter) RemovePolicy(sec, ptype string, rule []string) error {
	padded, err := padFields(rule)
	if err != nil {
		return err
	}
	q := `DELETE FROM permit_rules WHERE sec = :sec AND ptype = :ptype
AND v0 = :v0 AND v1 = :v1 AND v2 = :v2 AND v3 = :v3 AND v4 = :v4 AND v5 = :v5`
	params := ruleParams(sec, ptype, padded)
	delete(params, "created_at")
	_, err = a.db.NamedExecContext(context.Background(), q, params)
	return err
}

func (a *SQLAdapter) RemovePolicies(sec, ptype string, rules [][]string) error {
	for _, rule := range rules {
		if err := a.RemovePolicy(sec, ptype, rule); err != nil {
			return err
		}
	}
	return nil
}

func (a *SQLAdapter) RemoveFilteredPolicy(sec, ptype string, fieldIndex int, fieldValues ...string) error {
	conds := []string{"sec = :sec", "ptype = :ptype"}
	params := map[string]any{"sec": sec, "ptype": ptype}
	for i, v := range fieldValues {
		if v == "" {
			continue
		}
		col := fmt.Sprintf("v%d", fieldIndex+i)
		if fieldIndex+i >= maxFields {
			return fmt.Errorf("filter field index %d out of range", fieldIndex+i)
		}
		conds = append(conds, fmt.Sprintf("%s = :%s", col, col))
		params[col] = v
	}
	q := "DELETE FROM permit_rules WHERE " + strings.Join(conds, " AND ")
	_, err := a.db.NamedExecContext(context.Background(), q, params)
	return err
}

func (a *SQLAdapter) UpdatePolicy(sec, ptype string, oldRule, newRule []string) error {
	if err := a.RemovePolicy(sec, ptype, oldRule); err != nil {
		return err
	}
	return a.AddPolicy(sec, ptype, newRule)
}

// ListRulesSince returns the raw rows inserted at or after the given time.
// The time accepts any format date.Parse understands.
func (a *SQLAdapter) ListRulesSince(ctx context.Context, since string) ([][]string, error) {
	t, err := parseFlexibleTime(since)
	if err != nil {
		return nil, fmt.Errorf("parse since %q: %w", since, err)
	}
	q := `SELECT sec, ptype, v0, v1, v2, v3, v4, v5 FROM permit_rules WHERE created_at >= :since ORDER BY id`
	rows, err := a.db.NamedQueryContext(ctx, q, map[string]any{"since": t})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][]string
	for rows.Next() {
		var sec, ptype string
		padded := make([]string, maxFields)
		if err := rows.Scan(&sec, &ptype, &padded[0], &padded[1], &padded[2], &padded[3], &padded[4], &padded[5]); err != nil {
			return nil, err
		}
		out = append(out, append([]string{sec, ptype}, trimFields(padded)...))
	}
	return out, rows.Err()
}
