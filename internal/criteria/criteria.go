// Package criteria holds the filter, sort and pagination inputs shared by the
// read-side queries and the event store.
package criteria

import (
	"context"
	"fmt"
	"math"
	"strings"

	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Direction of a sort
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Operator of a filter
type Operator string

const (
	Eq   Operator = "eq"
	Neq  Operator = "neq"
	Gt   Operator = "gt"
	Gte  Operator = "gte"
	Lt   Operator = "lt"
	Lte  Operator = "lte"
	Like Operator = "like"
	In   Operator = "in"
)

// Filter is a single field condition
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Sort is a single ordering term
type Sort struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

// Pagination is 1-based page + page size
type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// Criteria combines filters, sorts and pagination
type Criteria struct {
	Filters    []Filter   `json:"filters"`
	Sorts      []Sort     `json:"sorts"`
	Pagination Pagination `json:"pagination"`
}

// Page is a paginated result set
type Page[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int   `json:"total_pages"`
}

// Fields maps public filter/sort names to column names. Anything not listed
// is rejected.
type Fields map[string]string

// Normalize fills in the default page and page size.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

// Offset returns the row offset for the page.
func (p Pagination) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.PerPage
}

// NewPage builds a page from items and the total row count.
func NewPage[T any](items []T, total int64, p Pagination) Page[T] {
	p = p.Normalize()
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:      items,
		Total:      total,
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalPages: int(math.Ceil(float64(total) / float64(p.PerPage))),
	}
}

// ApplyFilters adds the WHERE clauses of filters to db.
func ApplyFilters(db *gorm.DB, filters []Filter, fields Fields) (*gorm.DB, error) {
	for _, f := range filters {
		column, ok := fields[f.Field]
		if !ok {
			return nil, apperror.NewValidation(f.Field, "unknown filter field")
		}
		switch f.Operator {
		case Eq, "":
			db = db.Where(column+" = ?", f.Value)
		case Neq:
			db = db.Where(column+" <> ?", f.Value)
		case Gt:
			db = db.Where(column+" > ?", f.Value)
		case Gte:
			db = db.Where(column+" >= ?", f.Value)
		case Lt:
			db = db.Where(column+" < ?", f.Value)
		case Lte:
			db = db.Where(column+" <= ?", f.Value)
		case Like:
			db = db.Where(column+" LIKE ?", fmt.Sprintf("%%%v%%", f.Value))
		case In:
			db = db.Where(column+" IN ?", f.Value)
		default:
			return nil, apperror.NewValidation(f.Field, "unsupported operator "+string(f.Operator))
		}
	}
	return db, nil
}

// ApplySorts adds the ORDER BY terms of sorts to db.
func ApplySorts(db *gorm.DB, sorts []Sort, fields Fields) (*gorm.DB, error) {
	for _, s := range sorts {
		column, ok := fields[s.Field]
		if !ok {
			return nil, apperror.NewValidation(s.Field, "unknown sort field")
		}
		dir, err := ParseDirection(string(s.Direction))
		if err != nil {
			return nil, err
		}
		db = db.Order(column + " " + string(dir))
	}
	return db, nil
}

// ParseDirection accepts asc/desc in any case; empty means ascending.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(s) {
	case "", string(Asc):
		return Asc, nil
	case string(Desc):
		return Desc, nil
	default:
		return "", apperror.NewValidation("direction", "must be ASC or DESC")
	}
}

// Find runs a criteria query against the model T and returns one page.
// base carries any scope the caller always applies (lifecycle, tenant...).
func Find[T any](ctx context.Context, base *gorm.DB, c Criteria, fields Fields, defaultSort ...Sort) (Page[T], error) {
	var model T
	db := base.WithContext(ctx).Model(&model)

	db, err := ApplyFilters(db, c.Filters, fields)
	if err != nil {
		return Page[T]{}, err
	}

	var total int64
	if err := db.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return Page[T]{}, fmt.Errorf("failed to count rows: %w", err)
	}

	sorts := c.Sorts
	if len(sorts) == 0 {
		sorts = defaultSort
	}
	db, err = ApplySorts(db, sorts, fields)
	if err != nil {
		return Page[T]{}, err
	}

	p := c.Pagination.Normalize()
	var items []T
	if err := db.Offset(p.Offset()).Limit(p.PerPage).Find(&items).Error; err != nil {
		return Page[T]{}, fmt.Errorf("failed to find rows: %w", err)
	}

	return NewPage(items, total, p), nil
}
