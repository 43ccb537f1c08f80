package domain

import "time"

// AuditAction identifies a privileged operation recorded in the audit trail.
type AuditAction string

const AuditPromoteRole AuditAction = "promote_role"

// AuditRecord captures who changed what on whose account.
type AuditRecord struct {
	ID       string
	ActorID  string
	TargetID string
	Action   AuditAction
	FromRole Role
	ToRole   Role
	At       time.Time
}
