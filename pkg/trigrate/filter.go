package trigrate

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gator-daq/gatorproc/pkg/wfs"
)

// SQLFilter evaluates the queries over the table columns, loaded in a private
// in-memory SQLite database. Queries look like
// "wf1_trap_pur < 60 & wf1_n_peaks == 1" and are translated to SQL first, so
// a query naming an unknown column or using unsupported syntax is rejected
// before any row is read. A row passes when every query is true.
type SQLFilter struct{}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlType(t wfs.ColumnType) string {
	switch t {
	case wfs.Int64, wfs.Uint32, wfs.Bool:
		return "INTEGER"
	}
	return "REAL"
}

func (f *SQLFilter) Apply(table *wfs.FeatureTable, queries []string) ([]int, error) {
	var exprs, sources []string
	for _, q := range queries {
		if strings.TrimSpace(q) == "" {
			continue
		}
		expr, err := translateQuery(q, table.Columns())
		if err != nil {
			return nil, &ErrInvalidQuery{Query: q, Err: err}
		}
		exprs = append(exprs, expr)
		sources = append(sources, q)
	}

	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	defer db.Close()
	// every connection would get its own empty in-memory database
	db.SetMaxOpenConns(1)

	if err := loadTable(db, table); err != nil {
		return nil, err
	}
	for i, expr := range exprs {
		if _, err := db.Exec(fmt.Sprintf("DELETE FROM events WHERE NOT coalesce((%s), 0)", expr)); err != nil {
			return nil, &ErrInvalidQuery{Query: sources[i], Err: err}
		}
	}

	var rows []int
	if err := db.Select(&rows, "SELECT idx FROM events ORDER BY idx"); err != nil {
		return nil, err
	}
	return rows, nil
}

func loadTable(db *sqlx.DB, table *wfs.FeatureTable) error {
	cols := table.Columns()
	types := table.Types()

	defs := []string{"idx INTEGER PRIMARY KEY"}
	names := []string{"idx"}
	marks := []string{"?"}
	for i, c := range cols {
		defs = append(defs, quoteIdent(c)+" "+sqlType(types[i]))
		names = append(names, quoteIdent(c))
		marks = append(marks, "?")
	}
	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE events (%s)", strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("creating selection table: %w", err)
	}

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.Preparex(fmt.Sprintf("INSERT INTO events (%s) VALUES (%s)",
		strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return err
	}
	defer stmt.Close()

	columns := make([]*wfs.Column, len(cols))
	for i, c := range cols {
		columns[i], _ = table.Column(c)
	}
	args := make([]any, len(cols)+1)
	for r := 0; r < table.NRows(); r++ {
		args[0] = r
		for i, c := range columns {
			if sqlType(c.Type) == "INTEGER" {
				args[i+1] = int64(c.Values[r])
			} else {
				args[i+1] = c.Values[r]
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("loading row %d: %w", r, err)
		}
	}
	return tx.Commit()
}
