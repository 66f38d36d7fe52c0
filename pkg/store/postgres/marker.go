package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
)

// ErrNoRow is returned when no record matches the key.
var ErrNoRow = errors.New("no record matches key")

// Marker sets the contacted flag of a record after a successful send.
type Marker struct {
	db        DB
	table     string
	keyColumn string
	flag      string
	stamp     string
}

// NewMarker creates a marker that sets flag = true and, if stamp is not
// empty, stamp = now().
func NewMarker(db DB, table, keyColumn, flag, stamp string) (*Marker, error) {
	if db == nil || table == "" || keyColumn == "" || flag == "" {
		return nil, errors.New("postgres marker: db, table, key column and flag are required")
	}
	return &Marker{db: db, table: table, keyColumn: keyColumn, flag: flag, stamp: stamp}, nil
}

func (m *Marker) statement() string {
	set := ident(m.flag) + " = true"
	if m.stamp != "" {
		set += ", " + ident(m.stamp) + " = now()"
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE lower(%s::text) = $1", ident(m.table), set, ident(m.keyColumn))
}

// MarkContacted implements action.Marker.
func (m *Marker) MarkContacted(ctx context.Context, key candidate.Key) error {
	tag, err := m.db.Exec(ctx, m.statement(), strings.ToLower(strings.TrimSpace(key.String())))
	if err != nil {
		return fmt.Errorf("mark %s contacted: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark %s contacted: %w", key, ErrNoRow)
	}
	return nil
}
