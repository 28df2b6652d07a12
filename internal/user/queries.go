package user

import (
	"context"

	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/criteria"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
)

var fields = criteria.Fields{
	"id":         "id",
	"tenant_id":  "tenant_id",
	"email":      "email",
	"name":       "name",
	"status":     "status",
	"created_at": "created_at",
}

// Queries reads user views
type Queries struct {
	db *gorm.DB
}

// NewQueries creates user queries on the read database
func NewQueries(db *gorm.DB) *Queries {
	return &Queries{db: db}
}

func (q *Queries) HandleFind(ctx context.Context, query FindQuery) (*models.UserView, error) {
	var view models.UserView
	if err := q.db.WithContext(ctx).First(&view, "id = ?", query.ID).Error; err != nil {
		return nil, apperror.FromGorm(err, entity, query.ID)
	}
	return &view, nil
}

func (q *Queries) HandleFindMany(ctx context.Context, query FindManyQuery) (criteria.Page[models.UserView], error) {
	base := q.db
	if query.TenantID != "" {
		base = base.Where("tenant_id = ?", query.TenantID)
	}
	return criteria.Find[models.UserView](ctx, base, query.Criteria, fields,
		criteria.Sort{Field: "name", Direction: criteria.Asc})
}
