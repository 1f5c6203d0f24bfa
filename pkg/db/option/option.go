package option

import "gorm.io/gorm"

// QueryOption mutates a gorm statement before execution.
type QueryOption interface {
	Apply(tx *gorm.DB) *gorm.DB
}

type condition struct {
	query string
	args  []any
}

func (c condition) Apply(tx *gorm.DB) *gorm.DB {
	return tx.Where(c.query, c.args...)
}

// WithFilter adds an arbitrary WHERE clause.
func WithFilter(query string, args ...any) QueryOption {
	return condition{query: query, args: args}
}

// GTE filters field >= value.
func GTE(field string, value any) QueryOption {
	return condition{query: field + " >= ?", args: []any{value}}
}

// LTE filters field <= value.
func LTE(field string, value any) QueryOption {
	return condition{query: field + " <= ?", args: []any{value}}
}

type sortBy struct {
	order string
}

func (s sortBy) Apply(tx *gorm.DB) *gorm.DB {
	return tx.Order(s.order)
}

// WithSortBy orders the result set by a column.
func WithSortBy(field string, desc bool) QueryOption {
	order := field + " ASC"
	if desc {
		order = field + " DESC"
	}
	return sortBy{order: order}
}

type limit struct {
	n int
}

func (l limit) Apply(tx *gorm.DB) *gorm.DB {
	return tx.Limit(l.n)
}

// WithLimit caps the number of rows returned.
func WithLimit(n int) QueryOption {
	return limit{n: n}
}

type offset struct {
	n int
}

func (o offset) Apply(tx *gorm.DB) *gorm.DB {
	return tx.Offset(o.n)
}

// WithOffset skips the first n rows.
func WithOffset(n int) QueryOption {
	return offset{n: n}
}
