// Package models - user.go defines the User entity: the authenticated
// principal referenced by ID from every permission map, never embedded.
package models

import "github.com/lmco/mcf-sub003/internal/validation"

// User is a principal. Username is the identity key used in permission maps.
// Admin marks a system-wide administrator who bypasses permission maps
// entirely.
type User struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	FName    string `json:"fname,omitempty"`
	LName    string `json:"lname,omitempty"`
	Admin    bool   `json:"admin"`
	Custom   Custom `json:"custom,omitempty"`
	Metadata
}

func (u *User) RefID() string    { return u.Username }
func (u *User) EntityKind() Kind { return KindUser }

// Validate checks the create-time required fields.
func (u *User) Validate() error {
	if err := validation.Username(u.Username); err != nil {
		return err
	}
	return validation.CustomData(u.Custom)
}

// UpdatableFields lists the keys an update patch may carry. Username is the
// identity and never mutable; admin changes are restricted to system admins
// by the controller.
func (u *User) UpdatableFields() []string {
	return []string{"fname", "lname", "email", "custom", "archived", "admin"}
}
