package models

// Lifecycle replaces a nullable soft-delete column with an explicit enum.
type Lifecycle string

const (
	LifecycleActive  Lifecycle = "ACTIVE"
	LifecycleDeleted Lifecycle = "DELETED"
)
