package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidUserID is returned for malformed user identifiers.
var ErrInvalidUserID = errors.New("model: invalid user id")

var userIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

// ValidateUserID checks that id is a well-formed user identifier.
func ValidateUserID(id string) error {
	if !userIDRegex.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, id)
	}
	return nil
}

// Owner identifies who holds an order or position: a real user, or the
// per-outcome system ledger. The zero value is System.
type Owner struct {
	id   string
	user bool
}

// User returns the Owner for a real user.
func User(id string) Owner { return Owner{id: id, user: true} }

// System returns the synthetic system owner.
func System() Owner { return Owner{} }

func (o Owner) IsSystem() bool { return !o.user }

// UserID returns the user id and whether the owner is a real user.
func (o Owner) UserID() (string, bool) { return o.id, o.user }

func (o Owner) String() string {
	if !o.user {
		return "system"
	}
	return o.id
}

// Ptr returns the nullable storage form: nil for the system owner.
func (o Owner) Ptr() *string {
	if !o.user {
		return nil
	}
	id := o.id
	return &id
}

// OwnerFromPtr is the inverse of Ptr.
func OwnerFromPtr(id *string) Owner {
	if id == nil {
		return System()
	}
	return User(*id)
}

func (o Owner) MarshalJSON() ([]byte, error) {
	if !o.user {
		return []byte("null"), nil
	}
	return json.Marshal(o.id)
}

func (o *Owner) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*o = System()
		return nil
	}
	var id string
	if err := json.Unmarshal(b, &id); err != nil {
		return err
	}
	*o = User(id)
	return nil
}
