package common

import "time"

// Audit is the lifecycle state embedded in every persisted entity.
// Soft delete sets Active to false; active queries exclude such rows.
type Audit struct {
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// NewAudit returns an active audit block stamped with now.
func NewAudit() Audit {
	now := time.Now().UTC()
	return Audit{Active: true, CreatedAt: now, UpdatedAt: now}
}

// Touch updates the modification timestamp.
func (a *Audit) Touch() {
	a.UpdatedAt = time.Now().UTC()
}

// Deactivate soft-deletes the entity.
func (a *Audit) Deactivate() {
	a.Active = false
	a.Touch()
}
