package workbook

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MaxQueryRows caps how many rows Query renders.
const MaxQueryRows = 100

// Operation is a write statement kind.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

var (
	tablePatterns = map[Operation]*regexp.Regexp{
		OpInsert: regexp.MustCompile(`(?i)INSERT\s+INTO\s+(\w+)`),
		OpUpdate: regexp.MustCompile(`(?i)UPDATE\s+(\w+)`),
		OpDelete: regexp.MustCompile(`(?i)DELETE\s+FROM\s+(\w+)`),
	}
	paramPattern = regexp.MustCompile(`[:@$]([A-Za-z_]\w*)`)
	readPrefixes = []string{"SELECT", "WITH", "PRAGMA", "EXPLAIN"}
)

// Result is what a write statement reports to the model.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func failure(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

// Query runs a read-only statement and renders the rows as
// "Row N: col: value, ..." lines.
func (s *Store) Query(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if !isReadStatement(query) {
		return "", fmt.Errorf("execute_query only runs SELECT statements; use execute_insert, execute_update or execute_delete to change data")
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("columns: %w", err)
	}

	var lines []string
	truncated := false
	for rows.Next() {
		if len(lines) == MaxQueryRows {
			truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", fmt.Errorf("scan: %w", err)
		}
		fields := make([]string, len(cols))
		for i, c := range cols {
			fields[i] = c + ": " + renderValue(values[i])
		}
		lines = append(lines, fmt.Sprintf("Row %d: %s", len(lines)+1, strings.Join(fields, ", ")))
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("rows: %w", err)
	}

	if len(lines) == 0 {
		return "Empty result set", nil
	}
	if truncated {
		lines = append(lines, fmt.Sprintf("(truncated after %d rows)", MaxQueryRows))
	}
	return strings.Join(lines, "\n"), nil
}

// Exec runs a write statement once per value set inside a single
// transaction. Named parameters (:name, @name or $name) are bound from
// each set. Database errors are reported in the Result rather than
// returned, so the model can correct the statement.
func (s *Store) Exec(ctx context.Context, op Operation, statement string, valueSets []map[string]any) Result {
	statement = strings.TrimSpace(statement)
	table, ok := extractTable(op, statement)
	if !ok {
		return failure("Could not determine table from %s statement", op)
	}
	cols, err := s.Columns(ctx, table)
	if err != nil {
		return failure("Database error: %v", err)
	}
	if len(cols) == 0 {
		return failure("Table %s not found in schema", table)
	}
	if len(valueSets) == 0 {
		valueSets = []map[string]any{{}}
	}

	s.logger.Debug("executing statement", "operation", op, "table", table, "value_sets", len(valueSets))

	params := paramNames(statement)
	bound := make([][]any, 0, len(valueSets))
	for _, values := range valueSets {
		normalized, err := s.normalize(cols, values)
		if err != nil {
			return failure("%v", err)
		}
		bound = append(bound, namedArgs(params, normalized))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return failure("Database error: %v", err)
	}
	for _, args := range bound {
		if _, err := tx.ExecContext(ctx, statement, args...); err != nil {
			_ = tx.Rollback()
			s.logger.Warn("statement failed", "operation", op, "table", table, "error", err)
			return failure("Database error: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return failure("Database error: %v", err)
	}
	return Result{Success: true, Message: "Operation completed successfully"}
}

func isReadStatement(q string) bool {
	upper := strings.ToUpper(q)
	for _, p := range readPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

func extractTable(op Operation, statement string) (string, bool) {
	re, ok := tablePatterns[op]
	if !ok {
		return "", false
	}
	m := re.FindStringSubmatch(statement)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func paramNames(statement string) map[string]bool {
	names := make(map[string]bool)
	for _, m := range paramPattern.FindAllStringSubmatch(statement, -1) {
		names[m[1]] = true
	}
	return names
}

// namedArgs binds only the values the statement references.
func namedArgs(params map[string]bool, values map[string]any) []any {
	args := make([]any, 0, len(params))
	for name, v := range values {
		if params[name] {
			args = append(args, sql.Named(name, v))
		}
	}
	return args
}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.DateTime,
	"2006-01-02 15:04",
	time.DateOnly,
}

// normalize rewrites values so the driver can bind them: datetime
// columns get a canonical "YYYY-MM-DD HH:MM:SS" wall-clock string, and
// objects or lists are JSON-encoded.
func (s *Store) normalize(cols []Column, values map[string]any) (map[string]any, error) {
	types := make(map[string]string, len(cols))
	for _, c := range cols {
		types[c.Name] = c.Type
	}

	out := make(map[string]any, len(values))
	for k, v := range values {
		switch x := v.(type) {
		case string:
			if isDatetimeType(types[k]) && x != "" {
				t, err := s.parseDatetime(x)
				if err != nil {
					return nil, fmt.Errorf("invalid datetime format for %s: %q", k, x)
				}
				out[k] = t.Format(time.DateTime)
				continue
			}
			out[k] = x
		case map[string]any, []any:
			raw, err := json.Marshal(x)
			if err != nil {
				return nil, fmt.Errorf("invalid value for %s: %v", k, err)
			}
			out[k] = string(raw)
		default:
			out[k] = v
		}
	}
	return out, nil
}

func (s *Store) parseDatetime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range datetimeLayouts {
		if layout == time.RFC3339Nano {
			if t, err := time.Parse(layout, v); err == nil {
				return t.In(s.loc), nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, v, s.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", v)
}

func isDatetimeType(t string) bool {
	return strings.Contains(t, "TIME") || strings.Contains(t, "DATE")
}

func renderValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.DateTime)
	default:
		return fmt.Sprint(x)
	}
}
