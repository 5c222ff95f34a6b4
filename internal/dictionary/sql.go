package dictionary

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLProvider reads dictionaries from a Postgres table of (dictionary name,
// term) rows, so operations teams can maintain vocabularies without
// touching templates.
type SQLProvider struct {
	db    *sql.DB
	table string
}

// NewSQLProvider uses table (default "mapping_dictionaries") with columns
// dictionary_name and term.
func NewSQLProvider(db *sql.DB, table string) *SQLProvider {
	if table == "" {
		table = "mapping_dictionaries"
	}
	return &SQLProvider{db: db, table: table}
}

func (p *SQLProvider) Terms(ctx context.Context, name string) ([]string, error) {
	q := fmt.Sprintf(`SELECT term FROM %s WHERE dictionary_name = $1 ORDER BY term`, p.table)
	rows, err := p.db.QueryContext(ctx, q, name)
	if err != nil {
		return nil, fmt.Errorf("dictionary %q: %w", name, err)
	}
	defer rows.Close()

	var terms []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("dictionary %q: %w", name, err)
		}
		terms = append(terms, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dictionary %q: %w", name, err)
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return terms, nil
}
