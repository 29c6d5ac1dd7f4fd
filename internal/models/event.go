package models

import "time"

// EnrollmentEventType names a committed enrollment change.
type EnrollmentEventType string

// Event types published after a transaction commits.
const (
	EventEnrollmentScheduled  EnrollmentEventType = "enrollment.scheduled"
	EventEnrollmentWaitlisted EnrollmentEventType = "enrollment.waitlisted"
	EventEnrollmentDropped    EnrollmentEventType = "enrollment.dropped"
	EventEnrollmentPromoted   EnrollmentEventType = "enrollment.promoted"
	EventOfferingCancelled    EnrollmentEventType = "offering.cancelled"
	EventStudentWithdrawn     EnrollmentEventType = "student.withdrawn"
)

// EnrollmentEvent is the payload delivered to subscribers.
type EnrollmentEvent struct {
	ID         string               `json:"id"`
	Type       EnrollmentEventType  `json:"type"`
	SemesterID string               `json:"semester_id,omitempty"`
	CourseCode string               `json:"course_code,omitempty"`
	StudentID  string               `json:"student_id,omitempty"`
	Status     EnrollmentStatus     `json:"status,omitempty"`
	Affected   []AffectedEnrollment `json:"affected,omitempty"`
	Removed    []Enrollment         `json:"removed,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
	RequestID  string               `json:"request_id,omitempty"`
}
