package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/davicafu/eventrelay/shared/domain"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ---------- Tipos de paginación / ordenamiento ----------

// OffsetPagination para paginación clásica
type OffsetPagination struct {
	Limit  int
	Offset int
}

// Normalize aplica el límite por defecto y el máximo.
func (p OffsetPagination) Normalize() OffsetPagination {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Sort indica campo y dirección.
type Sort struct {
	Field string // ej. "created_at", "total"
	Desc  bool
}

// ---------- Traducción a SQL ----------

// Placeholder devuelve el marcador de la variable n (empezando en 1).
type Placeholder func(n int) string

// Question es el estilo de SQLite.
func Question(int) string { return "?" }

// Dollar es el estilo de Postgres.
func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// Builder acumula cláusulas y argumentos de una consulta de listado.
type Builder struct {
	ph   Placeholder
	args []interface{}
}

func NewBuilder(ph Placeholder) *Builder {
	return &Builder{ph: ph}
}

func (b *Builder) Args() []interface{} { return b.args }

func (b *Builder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return b.ph(len(b.args))
}

// Where traduce c a una cláusula "WHERE ..." o "" si no hay condiciones.
func (b *Builder) Where(c domain.Criteria) string {
	if c == nil {
		return ""
	}
	clause := b.render(c)
	if clause == "" {
		return ""
	}
	return " WHERE " + clause
}

func (b *Builder) render(c domain.Criteria) string {
	comp, ok := c.(domain.CompositeCriteria)
	if !ok {
		var parts []string
		for _, cond := range c.ToConditions() {
			parts = append(parts, fmt.Sprintf("%s %s %s", cond.Field, cond.Op, b.bind(cond.Value)))
		}
		return strings.Join(parts, " AND ")
	}

	var parts []string
	for _, child := range comp.Criterias {
		if s := b.render(child); s != "" {
			parts = append(parts, "("+s+")")
		}
	}
	op := comp.Operator
	if op == "" {
		op = domain.OpAnd
	}
	return strings.Join(parts, " "+string(op)+" ")
}

// Page añade ORDER BY y LIMIT/OFFSET. El campo de orden debe venir ya validado;
// id desempata para que la paginación sea estable.
func (b *Builder) Page(sort Sort, page OffsetPagination) string {
	dir := "ASC"
	if sort.Desc {
		dir = "DESC"
	}
	page = page.Normalize()
	return fmt.Sprintf(" ORDER BY %s %s, id %s LIMIT %s OFFSET %s",
		sort.Field, dir, dir, b.bind(page.Limit), b.bind(page.Offset))
}
