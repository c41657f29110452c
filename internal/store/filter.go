package store

import "ordersync/internal/model"

// Op is a filter comparison.
type Op int

const (
	OpEq Op = iota
	OpNotNull
	OpIsNull
)

// Filter selects orders by one field. Empty strings count as null, so an
// absent field and a present-but-null field match the same filters.
type Filter struct {
	Field string
	Op    Op
	Value string
}

func Eq(field, value string) Filter { return Filter{Field: field, Op: OpEq, Value: value} }
func NotNull(field string) Filter   { return Filter{Field: field, Op: OpNotNull} }
func IsNull(field string) Filter    { return Filter{Field: field, Op: OpIsNull} }

// Match evaluates the filter against an order.
func (f Filter) Match(o model.Order) bool {
	v, set := o.Field(f.Field)
	switch f.Op {
	case OpEq:
		return set && v == f.Value
	case OpNotNull:
		return set
	case OpIsNull:
		return !set
	}
	return false
}

func matchAll(o model.Order, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(o) {
			return false
		}
	}
	return true
}
