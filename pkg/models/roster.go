package models

import "time"

// Contact is a person attached to a customer in the roster.
type Contact struct {
	ID   int    `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Customer is one authoritative business entity from the Syncro roster.
type Customer struct {
	ID           int       `json:"id" yaml:"id"`
	BusinessName string    `json:"business_name" yaml:"business_name"`
	Contacts     []Contact `json:"contacts,omitempty" yaml:"contacts,omitempty"`
}

// Roster is a read-only snapshot of the customer/contact reference data.
// The resolver only ever reads it; refresh is the roster service's concern.
type Roster struct {
	Customers   []Customer `json:"customers" yaml:"customers"`
	RefreshedAt time.Time  `json:"refreshed_at_utc" yaml:"refreshed_at_utc"`
}

// IsEmpty reports whether the snapshot has no customers at all. Resolution
// cannot run against an empty roster.
func (r *Roster) IsEmpty() bool {
	return r == nil || len(r.Customers) == 0
}

// Age returns how old the snapshot is at the given instant.
func (r *Roster) Age(now time.Time) time.Duration {
	return now.Sub(r.RefreshedAt)
}
