package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/Sternrassler/outreach-dispatcher/pkg/pagination"
)

// Table describes where candidates live.
type Table struct {
	// Name of the table or view.
	Name string

	// KeyColumn holds the candidate key (usually the email address).
	KeyColumn string

	// CreatedColumn is the stable creation timestamp; empty omits it.
	CreatedColumn string

	// Columns are the payload fields loaded into Candidate.Fields.
	Columns []string
}

// Validate checks the required names.
func (t Table) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("table name is required")
	}
	if strings.TrimSpace(t.KeyColumn) == "" {
		return errors.New("key column is required")
	}
	return nil
}

// column maps a query field to a column. "key" and "created_at" are
// logical names for KeyColumn and CreatedColumn.
func (t Table) column(field string) string {
	switch field {
	case "key":
		return t.KeyColumn
	case "created_at":
		if t.CreatedColumn != "" {
			return t.CreatedColumn
		}
	}
	return field
}

// Source is a pagination.PageSource over one table.
type Source struct {
	db    DB
	table Table
}

// NewSource creates a page source.
func NewSource(db DB, table Table) (*Source, error) {
	if db == nil {
		return nil, errors.New("postgres source: db is required")
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("postgres source: %w", err)
	}
	return &Source{db: db, table: table}, nil
}

// FetchPage implements pagination.PageSource.
func (s *Source) FetchPage(ctx context.Context, q pagination.Query) ([]candidate.Candidate, error) {
	sql, args, err := s.table.buildSelect(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table.Name, err)
	}
	defer rows.Close()

	var out []candidate.Candidate
	for rows.Next() {
		var (
			key     *string
			created *time.Time
		)
		values := make([]*string, len(s.table.Columns))
		dest := []any{&key}
		if s.table.CreatedColumn != "" {
			dest = append(dest, &created)
		}
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table.Name, err)
		}

		c := candidate.Candidate{Fields: make(map[string]string, len(values)+1)}
		if key != nil {
			c.Key = candidate.Key(strings.TrimSpace(*key))
			c.Fields[s.table.KeyColumn] = *key
		}
		if created != nil {
			c.CreatedAt = *created
		}
		for i, col := range s.table.Columns {
			if values[i] != nil {
				c.Fields[col] = *values[i]
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.table.Name, err)
	}
	return out, nil
}

// buildSelect compiles q into a parameterized statement.
func (t Table) buildSelect(q pagination.Query) (string, []any, error) {
	cols := []string{ident(t.KeyColumn) + "::text"}
	if t.CreatedColumn != "" {
		cols = append(cols, ident(t.CreatedColumn))
	}
	for _, c := range t.Columns {
		cols = append(cols, ident(c)+"::text")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(cols, ", "), ident(t.Name))

	where, args, err := t.compileWhere(q.Where)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}

	if len(q.OrderBy) > 0 {
		order := make([]string, 0, len(q.OrderBy))
		for _, o := range q.OrderBy {
			dir := "ASC"
			if o.Descending {
				dir = "DESC"
			}
			order = append(order, ident(t.column(o.Field))+" "+dir)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(order, ", "))
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	args = append(args, q.Offset)
	fmt.Fprintf(&b, " OFFSET $%d", len(args))

	return b.String(), args, nil
}

func (t Table) compileWhere(preds []candidate.Predicate) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)
	for _, p := range preds {
		col := ident(t.column(p.Column()))
		switch p := p.(type) {
		case candidate.FieldIsNull:
			clauses = append(clauses, fmt.Sprintf("(%s IS NULL OR %s::text = '')", col, col))
		case candidate.FieldNotNull:
			clauses = append(clauses, fmt.Sprintf("(%s IS NOT NULL AND %s::text <> '')", col, col))
		case candidate.FieldEquals:
			args = append(args, p.Value)
			clauses = append(clauses, fmt.Sprintf("%s::text = $%d", col, len(args)))
		case candidate.FieldInSet:
			args = append(args, p.Values)
			clauses = append(clauses, fmt.Sprintf("%s::text = ANY($%d)", col, len(args)))
		default:
			return "", nil, fmt.Errorf("unsupported predicate %T", p)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}
