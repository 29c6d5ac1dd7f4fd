package models

import "time"

// Course is an immutable catalog entry.
type Course struct {
	Code        string    `db:"code" json:"code"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
