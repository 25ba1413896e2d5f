// Package identity maps validated claims to a local user record.
//
// Users are created the first time their identity claim is seen. Mapped
// profile fields are copied from the claims only at creation; later logins
// return the stored record unchanged so local edits survive.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingIdentityClaim is returned when a validated token lacks the
	// configured identity claim.
	ErrMissingIdentityClaim = errors.New("token contained no recognizable user identification")
	// ErrInactiveUser marks a resolved user whose activation flag is false.
	ErrInactiveUser = errors.New("user is inactive")
)

// User is the local identity record.
type User struct {
	ID               string         `json:"id"`
	Username         string         `json:"username,omitempty"`
	FirstName        string         `json:"first_name,omitempty"`
	LastName         string         `json:"last_name,omitempty"`
	Email            string         `json:"email,omitempty"`
	Active           *bool          `json:"is_active,omitempty"`
	PasswordUnusable bool           `json:"password_unusable,omitempty"`
	// Pending marks a record whose profile has not been populated yet. The
	// next login retries the population.
	Pending          bool           `json:"pending,omitempty"`
	Attributes       map[string]any `json:"attributes,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// SetField assigns a value to the field named like its JSON tag. Names without
// a dedicated field go to Attributes.
func (u *User) SetField(name string, value any) {
	switch name {
	case "id":
		// immutable
	case "username":
		u.Username = stringify(value)
	case "first_name":
		u.FirstName = stringify(value)
	case "last_name":
		u.LastName = stringify(value)
	case "email":
		u.Email = stringify(value)
	case "is_active":
		if b, ok := value.(bool); ok {
			u.Active = &b
		}
	default:
		if u.Attributes == nil {
			u.Attributes = map[string]any{}
		}
		u.Attributes[name] = value
	}
}

// Field reads a field by the same names SetField accepts.
func (u *User) Field(name string) (any, bool) {
	switch name {
	case "id":
		return u.ID, true
	case "username":
		return u.Username, true
	case "first_name":
		return u.FirstName, true
	case "last_name":
		return u.LastName, true
	case "email":
		return u.Email, true
	case "is_active":
		if u.Active == nil {
			return nil, false
		}
		return *u.Active, true
	default:
		v, ok := u.Attributes[name]
		return v, ok
	}
}

// SetUnusablePassword disables local password authentication.
func (u *User) SetUnusablePassword() { u.PasswordUnusable = true }

// CanAuthenticate is false only when the activation flag is explicitly false.
func (u *User) CanAuthenticate() bool { return u.Active == nil || *u.Active }

// Store persists users. FindOrCreate must be atomic per (field, value): two
// concurrent first logins of the same identity yield one record. A created
// record should carry Pending and an unusable password until it is populated.
type Store interface {
	FindOrCreate(ctx context.Context, field, value string) (user *User, created bool, err error)
	Save(ctx context.Context, user *User) error
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
	}
	return fmt.Sprint(v)
}
