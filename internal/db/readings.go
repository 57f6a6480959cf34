package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"hdgwatch/internal/readings"
)

// InsertReading appends one row to table. The table name is quoted, so it
// may be schema-qualified as "schema.table".
func (d *DB) InsertReading(ctx context.Context, table string, row readings.Row) error {
	if d == nil || d.conn == nil {
		return errors.New("db required")
	}
	ident, err := quoteTable(table)
	if err != nil {
		return err
	}
	res, err := d.conn.ExecContext(ctx, `
		INSERT INTO `+ident+`(anlage, key, value, ip, mac)
		VALUES ($1, $2, $3, $4, $5)
	`, row.Anlage, row.Key, row.Value, row.IP, row.MAC)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("insert into %s: no rows affected", table)
	}
	return nil
}

func quoteTable(table string) (string, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		return "", errors.New("table required")
	}
	parts := strings.Split(table, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	for i, p := range parts {
		if p == "" {
			return "", fmt.Errorf("invalid table name %q", table)
		}
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, "."), nil
}

// ReadingSink persists readings straight into Postgres.
type ReadingSink struct {
	DB    *DB
	Table string
}

func (s ReadingSink) Save(ctx context.Context, r readings.Reading) error {
	return s.DB.InsertReading(ctx, s.Table, r.Row())
}
