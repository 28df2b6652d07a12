package user

import (
	"github.com/sisques-labs/project-starter-sub009/internal/change"
	"github.com/sisques-labs/project-starter-sub009/internal/criteria"
)

// User statuses
const (
	StatusActive   = "ACTIVE"
	StatusInvited  = "INVITED"
	StatusDisabled = "DISABLED"
)

// Command and query types
const (
	CommandCreate = "CreateUser"
	CommandUpdate = "UpdateUser"
	CommandDelete = "DeleteUser"

	QueryFind     = "FindUser"
	QueryFindMany = "FindUsers"
)

type CreateCommand struct {
	ID       string  `json:"id" validate:"omitempty,uuid"`
	TenantID string  `json:"tenant_id" validate:"required"`
	Email    string  `json:"email" validate:"required,email,max=255"`
	Name     string  `json:"name" validate:"required,max=255"`
	Bio      *string `json:"bio" validate:"omitempty,max=2000"`
	Status   string  `json:"status" validate:"omitempty,oneof=ACTIVE INVITED DISABLED"`
}

// UpdateCommand changes only the fields that are set. Bio is the only field
// that can be cleared.
type UpdateCommand struct {
	ID     string               `json:"id" validate:"required"`
	Email  change.Field[string] `json:"email,omitzero"`
	Name   change.Field[string] `json:"name,omitzero"`
	Bio    change.Field[string] `json:"bio,omitzero"`
	Status change.Field[string] `json:"status,omitzero"`
}

type DeleteCommand struct {
	ID string `json:"id" validate:"required"`
}

func (CreateCommand) CommandType() string { return CommandCreate }
func (UpdateCommand) CommandType() string { return CommandUpdate }
func (DeleteCommand) CommandType() string { return CommandDelete }

type FindQuery struct{ ID string }

// FindManyQuery optionally scopes the search to one tenant
type FindManyQuery struct {
	TenantID string
	Criteria criteria.Criteria
}

func (FindQuery) QueryType() string     { return QueryFind }
func (FindManyQuery) QueryType() string { return QueryFindMany }
