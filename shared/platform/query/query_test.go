package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/davicafu/eventrelay/shared/domain"
)

func eq(field string, value interface{}) domain.Conditions {
	return domain.Conditions{{Field: field, Op: domain.OpEq, Value: value}}
}

type rangeCriteria struct{ min, max int }

func (c rangeCriteria) ToConditions() []domain.Criterion {
	return []domain.Criterion{
		{Field: "total", Op: domain.OpGte, Value: c.min},
		{Field: "total", Op: domain.OpLte, Value: c.max},
	}
}

func TestBuilder_WhereAndPage(t *testing.T) {
	tests := []struct {
		name      string
		ph        Placeholder
		criteria  domain.Criteria
		wantWhere string
		wantArgs  []interface{}
	}{
		{
			name:      "sin criterios",
			ph:        Question,
			criteria:  domain.And(),
			wantWhere: "",
			wantArgs:  []interface{}{DefaultLimit, 0},
		},
		{
			name:      "AND con marcadores de SQLite",
			ph:        Question,
			criteria:  domain.And(eq("status", "paid"), rangeCriteria{10, 20}),
			wantWhere: " WHERE (status = ?) AND (total >= ? AND total <= ?)",
			wantArgs:  []interface{}{"paid", 10, 20, DefaultLimit, 0},
		},
		{
			name:      "OR anidado con marcadores de Postgres",
			ph:        Dollar,
			criteria:  domain.And(eq("customer_id", "c1"), domain.Or(eq("status", "paid"), eq("status", "shipped"))),
			wantWhere: " WHERE (customer_id = $1) AND ((status = $2) OR (status = $3))",
			wantArgs:  []interface{}{"c1", "paid", "shipped", DefaultLimit, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(tt.ph)
			assert.Equal(t, tt.wantWhere, b.Where(tt.criteria))
			b.Page(Sort{Field: "created_at", Desc: true}, OffsetPagination{})
			assert.Equal(t, tt.wantArgs, b.Args())
		})
	}
}

func TestBuilder_PageClause(t *testing.T) {
	b := NewBuilder(Dollar)
	b.Where(eq("status", "paid"))
	clause := b.Page(Sort{Field: "total"}, OffsetPagination{Limit: 1000, Offset: -3})

	assert.Equal(t, " ORDER BY total ASC, id ASC LIMIT $2 OFFSET $3", clause)
	assert.Equal(t, []interface{}{"paid", MaxLimit, 0}, b.Args())
}
