package tenant

import (
	"context"

	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/criteria"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
)

var fields = criteria.Fields{
	"id":         "id",
	"name":       "name",
	"slug":       "slug",
	"status":     "status",
	"user_count": "user_count",
	"created_at": "created_at",
}

// Queries reads tenant views
type Queries struct {
	db *gorm.DB
}

// NewQueries creates tenant queries on the read database
func NewQueries(db *gorm.DB) *Queries {
	return &Queries{db: db}
}

func (q *Queries) HandleFind(ctx context.Context, query FindQuery) (*models.TenantView, error) {
	var view models.TenantView
	if err := q.db.WithContext(ctx).First(&view, "id = ?", query.ID).Error; err != nil {
		return nil, apperror.FromGorm(err, entity, query.ID)
	}
	return &view, nil
}

func (q *Queries) HandleFindMany(ctx context.Context, query FindManyQuery) (criteria.Page[models.TenantView], error) {
	return criteria.Find[models.TenantView](ctx, q.db, query.Criteria, fields,
		criteria.Sort{Field: "name", Direction: criteria.Asc})
}
