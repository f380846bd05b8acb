package domain

import "time"

// ServiceRole scopes what an internal caller may do.
type ServiceRole string

const (
	ServiceRoleWorker ServiceRole = "WORKER"
	ServiceRoleAdmin  ServiceRole = "ADMIN"
)

// Valid reports whether r is a known role.
func (r ServiceRole) Valid() bool {
	return r == ServiceRoleWorker || r == ServiceRoleAdmin
}

// Token represents issued service token metadata.
type Token struct {
	SubjectID string
	Role      ServiceRole
	ExpiresAt time.Time
	IssuedAt  time.Time
}
