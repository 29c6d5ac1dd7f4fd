package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusScheduled  EnrollmentStatus = "SCHEDULED"
	EnrollmentStatusWaitlisted EnrollmentStatus = "WAITLISTED"
)

// Valid reports whether the status is one the store accepts.
func (s EnrollmentStatus) Valid() bool {
	return s == EnrollmentStatusScheduled || s == EnrollmentStatusWaitlisted
}

// Enrollment captures a student's request for a seat in an offering.
// RequestedAt orders the waitlist; Seq is the store's insertion sequence and
// breaks timestamp ties.
type Enrollment struct {
	SemesterID  string           `db:"semester_id" json:"semester_id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	CourseCode  string           `db:"course_code" json:"course_code"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	RequestedAt time.Time        `db:"requested_at" json:"requested_at"`
	Seq         int64            `db:"seq" json:"-"`
}

// Offering returns the key of the offering the enrollment belongs to.
func (e Enrollment) Offering() OfferingKey {
	return OfferingKey{SemesterID: e.SemesterID, CourseCode: e.CourseCode}
}

// AffectedEnrollment describes a student removed by an offering cancellation.
type AffectedEnrollment struct {
	StudentID   string           `db:"student_id" json:"student_id"`
	FirstName   string           `db:"first_name" json:"first_name"`
	LastName    string           `db:"last_name" json:"last_name"`
	PriorStatus EnrollmentStatus `db:"status" json:"prior_status"`
}
