package models

import "time"

// ClassOffering is a course taught in a specific semester with a fixed seat capacity.
type ClassOffering struct {
	SemesterID string    `db:"semester_id" json:"semester_id"`
	CourseCode string    `db:"course_code" json:"course_code"`
	Capacity   int       `db:"capacity" json:"capacity"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// OfferingKey identifies an offering.
type OfferingKey struct {
	SemesterID string `json:"semester_id"`
	CourseCode string `json:"course_code"`
}

// Key returns the composite identifier of the offering.
func (o ClassOffering) Key() OfferingKey {
	return OfferingKey{SemesterID: o.SemesterID, CourseCode: o.CourseCode}
}

// Less orders keys by semester then course code. Locks on several offerings
// are always taken in this order.
func (k OfferingKey) Less(other OfferingKey) bool {
	if k.SemesterID != other.SemesterID {
		return k.SemesterID < other.SemesterID
	}
	return k.CourseCode < other.CourseCode
}
