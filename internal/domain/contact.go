package domain

import "time"

// ContactStatus enumerates the states a contact can be in.
type ContactStatus string

const (
	ContactActive       ContactStatus = "active"
	ContactUnsubscribed ContactStatus = "unsubscribed"
	ContactBounced      ContactStatus = "bounced"
)

// Contact represents a single email recipient in the address book.
type Contact struct {
	ID        string        `json:"id" db:"id"`
	Email     string        `json:"email" db:"email"`
	FirstName string        `json:"first_name" db:"first_name"`
	LastName  string        `json:"last_name" db:"last_name"`
	Status    ContactStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// Deliverable reports whether the contact may still receive campaign mail.
func (c *Contact) Deliverable() bool {
	return c.Status == ContactActive
}
