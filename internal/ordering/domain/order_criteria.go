package domain

import (
	"fmt"

	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/eventrelay/shared/domain"
	"github.com/davicafu/eventrelay/shared/platform/query"
)

// ---------------- Implementaciones concretas ----------------

// Filtrado por estado exacto
type StatusCriteria struct {
	Status OrderStatus
}

func (c StatusCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{{Field: "status", Op: sharedDomain.OpEq, Value: string(c.Status)}}
}

// Filtrado por cliente
type CustomerCriteria struct {
	CustomerID uuid.UUID
}

func (c CustomerCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{{Field: "customer_id", Op: sharedDomain.OpEq, Value: c.CustomerID.String()}}
}

// Filtrado por rango de importe (céntimos, ambos extremos incluidos)
type TotalRangeCriteria struct {
	Min *int64
	Max *int64
}

func (c TotalRangeCriteria) ToConditions() []sharedDomain.Criterion {
	var conds []sharedDomain.Criterion
	if c.Min != nil {
		conds = append(conds, sharedDomain.Criterion{Field: "total", Op: sharedDomain.OpGte, Value: *c.Min})
	}
	if c.Max != nil {
		conds = append(conds, sharedDomain.Criterion{Field: "total", Op: sharedDomain.OpLte, Value: *c.Max})
	}
	return conds
}

// sortFields son las columnas por las que se puede ordenar un listado.
var sortFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"total":      true,
	"status":     true,
}

// DefaultSort: los más recientes primero.
var DefaultSort = query.Sort{Field: "created_at", Desc: true}

// ValidateSort evita que un campo arbitrario llegue al ORDER BY.
func ValidateSort(s query.Sort) (query.Sort, error) {
	if s.Field == "" {
		return DefaultSort, nil
	}
	if !sortFields[s.Field] {
		return s, fmt.Errorf("%w: cannot sort by %q", ErrInvalidOrder, s.Field)
	}
	return s, nil
}
