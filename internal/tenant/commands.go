package tenant

import (
	"github.com/sisques-labs/project-starter-sub009/internal/change"
	"github.com/sisques-labs/project-starter-sub009/internal/criteria"
)

// Tenant statuses
const (
	StatusActive    = "ACTIVE"
	StatusSuspended = "SUSPENDED"
	StatusInactive  = "INACTIVE"
)

// Command and query types
const (
	CommandCreate = "CreateTenant"
	CommandUpdate = "UpdateTenant"
	CommandDelete = "DeleteTenant"

	QueryFind     = "FindTenant"
	QueryFindMany = "FindTenants"
)

type CreateCommand struct {
	ID          string  `json:"id" validate:"omitempty,uuid"`
	Name        string  `json:"name" validate:"required,max=255"`
	Slug        string  `json:"slug" validate:"required,max=100,slug"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
	Status      string  `json:"status" validate:"omitempty,oneof=ACTIVE SUSPENDED INACTIVE"`
}

// UpdateCommand changes only the fields that are set. Name, slug and status
// cannot be cleared.
type UpdateCommand struct {
	ID          string               `json:"id" validate:"required"`
	Name        change.Field[string] `json:"name,omitzero"`
	Slug        change.Field[string] `json:"slug,omitzero"`
	Description change.Field[string] `json:"description,omitzero"`
	Status      change.Field[string] `json:"status,omitzero"`
}

type DeleteCommand struct {
	ID string `json:"id" validate:"required"`
}

func (CreateCommand) CommandType() string { return CommandCreate }
func (UpdateCommand) CommandType() string { return CommandUpdate }
func (DeleteCommand) CommandType() string { return CommandDelete }

type FindQuery struct{ ID string }

type FindManyQuery struct{ Criteria criteria.Criteria }

func (FindQuery) QueryType() string     { return QueryFind }
func (FindManyQuery) QueryType() string { return QueryFindMany }
