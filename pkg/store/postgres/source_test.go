package postgres

import (
	"reflect"
	"testing"

	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/Sternrassler/outreach-dispatcher/pkg/pagination"
)

func TestTable_BuildSelect(t *testing.T) {
	table := Table{
		Name:          "model_profiles",
		KeyColumn:     "email",
		CreatedColumn: "created_at",
		Columns:       []string{"name", "status"},
	}

	tests := []struct {
		name     string
		query    pagination.Query
		wantSQL  string
		wantArgs []any
	}{
		{
			name: "plain page",
			query: pagination.Query{
				Offset:  0,
				Limit:   500,
				OrderBy: []candidate.Order{{Field: "created_at"}},
			},
			wantSQL:  `SELECT "email"::text, "created_at", "name"::text, "status"::text FROM "model_profiles" ORDER BY "created_at" ASC LIMIT $1 OFFSET $2`,
			wantArgs: []any{500, 0},
		},
		{
			name: "all predicate kinds",
			query: pagination.Query{
				Offset: 1000,
				Limit:  500,
				Where: []candidate.Predicate{
					candidate.FieldNotNull{Field: "email"},
					candidate.FieldIsNull{Field: "claimed_at"},
					candidate.FieldEquals{Field: "status", Value: "new"},
					candidate.FieldInSet{Field: "country", Values: []string{"DE", "AT"}},
				},
				OrderBy: []candidate.Order{{Field: "created_at"}, {Field: "key", Descending: true}},
			},
			wantSQL: `SELECT "email"::text, "created_at", "name"::text, "status"::text FROM "model_profiles"` +
				` WHERE ("email" IS NOT NULL AND "email"::text <> '') AND ("claimed_at" IS NULL OR "claimed_at"::text = '')` +
				` AND "status"::text = $1 AND "country"::text = ANY($2)` +
				` ORDER BY "created_at" ASC, "email" DESC LIMIT $3 OFFSET $4`,
			wantArgs: []any{"new", []string{"DE", "AT"}, 500, 1000},
		},
		{
			name:     "identifiers are quoted",
			query:    pagination.Query{Limit: 1, OrderBy: []candidate.Order{{Field: `x"; DROP TABLE y; --`}}},
			wantSQL:  `SELECT "email"::text, "created_at", "name"::text, "status"::text FROM "model_profiles" ORDER BY "x""; DROP TABLE y; --" ASC LIMIT $1 OFFSET $2`,
			wantArgs: []any{1, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := table.buildSelect(tt.query)
			if err != nil {
				t.Fatal(err)
			}
			if sql != tt.wantSQL {
				t.Errorf("sql =\n%s\nwant\n%s", sql, tt.wantSQL)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %#v, want %#v", args, tt.wantArgs)
			}
		})
	}
}

func TestTable_Validate(t *testing.T) {
	if err := (Table{KeyColumn: "email"}).Validate(); err == nil {
		t.Error("missing name should fail")
	}
	if err := (Table{Name: "t"}).Validate(); err == nil {
		t.Error("missing key column should fail")
	}
	if _, err := NewSource(nil, Table{Name: "t", KeyColumn: "k"}); err == nil {
		t.Error("nil db should fail")
	}
}

func TestMarker_Statement(t *testing.T) {
	tests := []struct {
		stamp string
		want  string
	}{
		{"", `UPDATE "profiles" SET "contacted" = true WHERE lower("email"::text) = $1`},
		{"contacted_at", `UPDATE "profiles" SET "contacted" = true, "contacted_at" = now() WHERE lower("email"::text) = $1`},
	}
	for _, tt := range tests {
		m := &Marker{table: "profiles", keyColumn: "email", flag: "contacted", stamp: tt.stamp}
		if got := m.statement(); got != tt.want {
			t.Errorf("statement() = %s, want %s", got, tt.want)
		}
	}
}
