package models

import "time"

// User is the public identity of a marketplace user.
// Users are owned by the identity provider; this service only reads them.
type User struct {
	ID        string    `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Avatar    *string   `json:"avatar"`
	CreatedAt time.Time `json:"-"` // Never part of the public identity
}
