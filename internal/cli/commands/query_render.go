package commands

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Gracecr/sacred/internal/state"
	"github.com/jedib0t/go-pretty/v6/table"
)

func renderResults(w io.Writer, rows *sql.Rows, format string) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	// Collect all rows
	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		valuePtrs := make([]any, len(cols))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return err
		}

		row := make(map[string]any)
		for i, col := range cols {
			val := values[i]
			// Convert []byte to string for readability
			if b, ok := val.([]byte); ok {
				val = string(b)
			}
			row[col] = val
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return err
	}

	switch format {
	case "json":
		return renderJSON(w, results)
	case "csv":
		return renderCSV(w, cols, results)
	case "md", "markdown":
		return renderMarkdown(w, cols, results)
	default:
		return renderTable(w, cols, results)
	}
}

func renderTable(w io.Writer, cols []string, results []map[string]any) error {
	if len(results) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}
	newResultWriter(w, cols, results).Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(results))
	return nil
}

func renderJSON(w io.Writer, results []map[string]any) error {
	if results == nil {
		results = []map[string]any{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func renderCSV(w io.Writer, cols []string, results []map[string]any) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	for _, result := range results {
		values := make([]string, len(cols))
		for i, col := range cols {
			values[i] = formatValue(result[col])
		}
		if err := cw.Write(values); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func renderMarkdown(w io.Writer, cols []string, results []map[string]any) error {
	if len(results) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}
	newResultWriter(w, cols, results).RenderMarkdown()
	return nil
}

func newResultWriter(w io.Writer, cols []string, results []map[string]any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(cols))
	for i, col := range cols {
		headerRow[i] = col
	}
	t.AppendHeader(headerRow)

	for _, result := range results {
		row := make(table.Row, len(cols))
		for i, col := range cols {
			row[i] = formatValue(result[col])
		}
		t.AppendRow(row)
	}
	return t
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return val.Format(time.RFC3339)
	}
	return fmt.Sprintf("%v", v)
}

// listTablesFromDB lists user tables and views, hiding migration
// bookkeeping.
func listTablesFromDB(ctx context.Context, w io.Writer, db *sql.DB, dialect state.Dialect, format string) error {
	query := `
		SELECT name, type
		FROM sqlite_master
		WHERE type IN ('table', 'view')
		AND name NOT LIKE 'sqlite_%'
		AND name NOT LIKE 'goose_%'
		ORDER BY type DESC, name
	`
	if dialect == state.DialectPostgres {
		query = `
			SELECT table_name AS name,
				CASE table_type WHEN 'VIEW' THEN 'view' ELSE 'table' END AS type
			FROM information_schema.tables
			WHERE table_schema = current_schema()
			AND table_name NOT LIKE 'goose_%'
			ORDER BY type DESC, name
		`
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	return renderResults(w, rows, format)
}

// tableNames returns the names of user tables and views.
func tableNames(ctx context.Context, db *sql.DB, dialect state.Dialect) ([]string, error) {
	query := `
		SELECT name FROM sqlite_master
		WHERE type IN ('table', 'view')
		AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`
	if dialect == state.DialectPostgres {
		query = `
			SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema()
			ORDER BY table_name
		`
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func showSchemaFromDB(ctx context.Context, w io.Writer, db *sql.DB, dialect state.Dialect, tableName, format string) error {
	var (
		columns []columnInfo
		objType string
		indexes []string
		err     error
	)
	if dialect == state.DialectPostgres {
		columns, objType, indexes, err = postgresSchema(ctx, db, tableName)
	} else {
		columns, objType, indexes, err = sqliteSchema(ctx, db, tableName)
	}
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return fmt.Errorf("table or view '%s' not found", tableName)
	}

	if format == "json" {
		return renderSchemaJSON(w, tableName, objType, columns)
	}

	title := "Table"
	if objType == "view" {
		title = "View"
	}
	_, _ = fmt.Fprintf(w, "%s: %s\n", title, tableName)
	_, _ = fmt.Fprintln(w, strings.Repeat("-", 60))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Column", "Type", "Nullable", "Default"})
	for _, col := range columns {
		t.AppendRow(table.Row{col.Name, col.Type, col.Nullable, col.Default})
	}
	t.Render()

	if len(indexes) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "Indexes:")
		for _, idx := range indexes {
			_, _ = fmt.Fprintf(w, "  %s\n", idx)
		}
	}
	return nil
}

func sqliteSchema(ctx context.Context, db *sql.DB, tableName string) ([]columnInfo, string, []string, error) {
	rows, err := db.QueryContext(ctx, `SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?)`, tableName)
	if err != nil {
		return nil, "", nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []columnInfo
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString

		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, "", nil, err
		}

		nullable := "YES"
		if notNull == 1 {
			nullable = "NO"
		}
		defaultVal := ""
		if dflt.Valid {
			defaultVal = dflt.String
		}
		if pk > 0 {
			if defaultVal != "" {
				defaultVal += " "
			}
			defaultVal += "(primary key)"
		}

		columns = append(columns, columnInfo{
			Name:     name,
			Type:     colType,
			Nullable: nullable,
			Default:  defaultVal,
			PK:       pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, "", nil, err
	}

	objType := "table"
	_ = db.QueryRowContext(ctx, `
		SELECT type FROM sqlite_master
		WHERE name = ? AND type IN ('table', 'view')
	`, tableName).Scan(&objType)

	var indexes []string
	if objType == "table" {
		indexes = collectNames(ctx, db, `
			SELECT name FROM sqlite_master
			WHERE type = 'index' AND tbl_name = ?
			AND name NOT LIKE 'sqlite_%'
			ORDER BY name
		`, tableName)
	}
	return columns, objType, indexes, nil
}

func postgresSchema(ctx context.Context, db *sql.DB, tableName string) ([]columnInfo, string, []string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.column_name, c.data_type, c.is_nullable, COALESCE(c.column_default, ''),
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage k
					ON k.constraint_name = tc.constraint_name AND k.table_schema = tc.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
				AND tc.table_schema = c.table_schema
				AND tc.table_name = c.table_name
				AND k.column_name = c.column_name
			)
		FROM information_schema.columns c
		WHERE c.table_schema = current_schema() AND c.table_name = $1
		ORDER BY c.ordinal_position
	`, tableName)
	if err != nil {
		return nil, "", nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []columnInfo
	for rows.Next() {
		var col columnInfo
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Default, &col.PK); err != nil {
			return nil, "", nil, err
		}
		if col.PK {
			if col.Default != "" {
				col.Default += " "
			}
			col.Default += "(primary key)"
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, "", nil, err
	}

	objType := "table"
	var tableType string
	err = db.QueryRowContext(ctx, `
		SELECT table_type FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1
	`, tableName).Scan(&tableType)
	if err == nil && tableType == "VIEW" {
		objType = "view"
	}

	var indexes []string
	if objType == "table" {
		indexes = collectNames(ctx, db, `
			SELECT indexname FROM pg_indexes
			WHERE schemaname = current_schema() AND tablename = $1
			ORDER BY indexname
		`, tableName)
	}
	return columns, objType, indexes, nil
}

// collectNames runs a single-column query; failures yield no names since
// the result is informational only.
func collectNames(ctx context.Context, db *sql.DB, query string, args ...any) []string {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if rows.Scan(&name) == nil {
			names = append(names, name)
		}
	}
	return names
}

// columnInfo represents schema column information.
type columnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable string `json:"nullable"`
	Default  string `json:"default"`
	PK       bool   `json:"pk"`
}

type schemaOutput struct {
	Name    string       `json:"name"`
	Type    string       `json:"type"`
	Columns []columnInfo `json:"columns"`
}

func renderSchemaJSON(w io.Writer, tableName, objType string, columns []columnInfo) error {
	schema := schemaOutput{
		Name:    tableName,
		Type:    objType,
		Columns: columns,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(schema)
}
