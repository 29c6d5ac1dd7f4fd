package models

import "time"

// Semester identifies an academic period offerings are scheduled in.
type Semester struct {
	ID        string    `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
