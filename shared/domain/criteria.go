package domain

// ---------------- Operadores ----------------

type Operator string

const (
	OpEq  Operator = "="
	OpNeq Operator = "<>"
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpLt  Operator = "<"
	OpLte Operator = "<="
)

type LogicalOperator string

const (
	OpAnd LogicalOperator = "AND"
	OpOr  LogicalOperator = "OR"
)

// ---------------- Criterion ----------------

// Criterion es una condición neutral: columna, operador y valor ya convertido al tipo de la columna.
type Criterion struct {
	Field string
	Op    Operator
	Value interface{}
}

// Criteria permite transformar filtros de dominio a condiciones neutrales.
// Las condiciones de un mismo Criteria se combinan con AND.
type Criteria interface {
	ToConditions() []Criterion
}

// Conditions es un Criteria literal, útil para filtros ad hoc.
type Conditions []Criterion

func (c Conditions) ToConditions() []Criterion { return c }

// ---------------- Composite Criteria ----------------

// CompositeCriteria agrupa criterios bajo un operador lógico. Se puede anidar.
type CompositeCriteria struct {
	Operator  LogicalOperator
	Criterias []Criteria
}

// ToConditions aplana el árbol. Solo es exacto para grupos AND; los
// traductores a SQL recorren Criterias para respetar el operador.
func (c CompositeCriteria) ToConditions() []Criterion {
	var all []Criterion
	for _, crit := range c.Criterias {
		all = append(all, crit.ToConditions()...)
	}
	return all
}

// ---------------- Helpers ----------------

func And(criterias ...Criteria) CompositeCriteria {
	return CompositeCriteria{Operator: OpAnd, Criterias: criterias}
}

func Or(criterias ...Criteria) CompositeCriteria {
	return CompositeCriteria{Operator: OpOr, Criterias: criterias}
}
