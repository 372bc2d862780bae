package store

import (
	"fmt"
	"strings"

	"github.com/pulp/pulp-manager/internal/errors"
)

// Op is a filter predicate operator.
type Op string

const (
	OpEq    Op = "eq"
	OpLike  Op = "like"
	OpGt    Op = "gt"
	OpGe    Op = "ge"
	OpLt    Op = "lt"
	OpLe    Op = "le"
	OpIn    Op = "in"
	OpMatch Op = "match"
)

var opSuffixes = map[string]Op{
	"like":  OpLike,
	"gt":    OpGt,
	"ge":    OpGe,
	"lt":    OpLt,
	"le":    OpLe,
	"in":    OpIn,
	"match": OpMatch,
}

// ColumnSpec describes one filterable column of an entity.
type ColumnSpec struct {
	// SQL is the (possibly table-qualified) column reference.
	SQL string
	// Enum translates a boundary name ("running") to the stored value.
	Enum func(string) (int, error)
}

// Columns declares the filter vocabulary of an entity. Joined columns are
// only reachable through the entity's joined paging variant; referencing
// them in a basic filter is a FilterError.
type Columns struct {
	Direct map[string]ColumnSpec
	Joined map[string]ColumnSpec
}

// Predicate is one parsed filter condition.
type Predicate struct {
	Field string
	Op    Op
	Value string
	spec  ColumnSpec
}

// Query is a parsed filter: predicates plus an optional ordering directive.
type Query struct {
	Predicates []Predicate
	SortBy     string
	Desc       bool
	sortSpec   ColumnSpec
}

// ParseQuery validates raw filter parameters against the entity's declared
// columns. Keys take the form `field` or `field__op`; `sort_by`/`order_by`
// direct ordering. joined selects whether the entity's joined columns are
// reachable.
func ParseQuery(params map[string]string, cols Columns, joined bool) (*Query, error) {
	q := &Query{}

	resolve := func(field string) (ColumnSpec, bool, error) {
		if spec, ok := cols.Direct[field]; ok {
			return spec, true, nil
		}
		if spec, ok := cols.Joined[field]; ok {
			if !joined {
				return ColumnSpec{}, false, errors.FilterError(field).
					WithContext("reason", "column requires a joined query")
			}
			return spec, true, nil
		}
		return ColumnSpec{}, false, nil
	}

	for key, value := range params {
		switch key {
		case "sort_by":
			spec, ok, err := resolve(value)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, errors.FilterError(key).WithContext("reason", "unknown sort column "+value)
			}
			q.SortBy = value
			q.sortSpec = spec
			continue
		case "order_by":
			switch strings.ToLower(value) {
			case "asc":
				q.Desc = false
			case "desc":
				q.Desc = true
			default:
				return nil, errors.FilterError(key).WithContext("reason", "order must be asc or desc")
			}
			continue
		}

		field := key
		op := OpEq
		if idx := strings.LastIndex(key, "__"); idx > 0 {
			suffix := key[idx+2:]
			if parsed, ok := opSuffixes[suffix]; ok {
				field = key[:idx]
				op = parsed
			}
		}

		spec, ok, err := resolve(field)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.FilterError(key)
		}

		q.Predicates = append(q.Predicates, Predicate{Field: field, Op: op, Value: value, spec: spec})
	}

	return q, nil
}

// translate applies the column's enum mapping when declared.
func (p Predicate) translate(raw string) (any, error) {
	if p.spec.Enum == nil {
		return raw, nil
	}
	v, err := p.spec.Enum(raw)
	if err != nil {
		return nil, errors.FilterError(p.Field).WithContext("reason", err.Error())
	}
	return v, nil
}

// whereClause renders the predicates as SQL. Returns an empty string when
// there are no predicates.
func (q *Query) whereClause() (string, []any, error) {
	if len(q.Predicates) == 0 {
		return "", nil, nil
	}

	conds := make([]string, 0, len(q.Predicates))
	args := make([]any, 0, len(q.Predicates))

	for _, p := range q.Predicates {
		switch p.Op {
		case OpEq:
			v, err := p.translate(p.Value)
			if err != nil {
				return "", nil, err
			}
			conds = append(conds, p.spec.SQL+" = ?")
			args = append(args, v)
		case OpLike:
			conds = append(conds, p.spec.SQL+" LIKE ?")
			args = append(args, p.Value)
		case OpGt, OpGe, OpLt, OpLe:
			v, err := p.translate(p.Value)
			if err != nil {
				return "", nil, err
			}
			conds = append(conds, fmt.Sprintf("%s %s ?", p.spec.SQL, sqlComparison(p.Op)))
			args = append(args, v)
		case OpIn:
			parts := strings.Split(p.Value, ",")
			placeholders := make([]string, 0, len(parts))
			for _, part := range parts {
				v, err := p.translate(strings.TrimSpace(part))
				if err != nil {
					return "", nil, err
				}
				placeholders = append(placeholders, "?")
				args = append(args, v)
			}
			conds = append(conds, fmt.Sprintf("%s IN (%s)", p.spec.SQL, strings.Join(placeholders, ", ")))
		case OpMatch:
			conds = append(conds, p.spec.SQL+" REGEXP ?")
			args = append(args, p.Value)
		default:
			return "", nil, errors.FilterError(p.Field).WithContext("reason", "unsupported operator")
		}
	}

	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func sqlComparison(op Op) string {
	switch op {
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	}
	return "="
}

// orderClause renders the ordering directive; defaultSort is used when the
// caller gave no sort_by.
func (q *Query) orderClause(defaultSort string) string {
	col := defaultSort
	if q.SortBy != "" {
		col = q.sortSpec.SQL
	}
	if col == "" {
		return ""
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s", col, dir)
}

// pageBounds validates the requested page against the configured maximum.
// The check happens before any database read.
func pageBounds(page, pageSize, defaultSize, maxSize int) (limit, offset int, err error) {
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	if pageSize > maxSize {
		return 0, 0, errors.PageSizeTooLarge(pageSize, maxSize)
	}
	if page < 1 {
		page = 1
	}
	return pageSize, (page - 1) * pageSize, nil
}

func enumTaskState(name string) (int, error) {
	s, err := ParseTaskState(name)
	return int(s), err
}

func enumTaskType(name string) (int, error) {
	t, err := ParseTaskType(name)
	return int(t), err
}

func enumHealth(name string) (int, error) {
	h, err := ParseHealthStatus(name)
	return int(h), err
}
