package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	"github.com/noah-isme/class-scheduler-api/internal/repository"
	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

// SeatLedger is the seat accounting of one offering as seen by the current transaction.
type SeatLedger struct {
	Offering  models.ClassOffering
	Scheduled int
	Capacity  int
}

// HasSeat reports whether another enrollment can be scheduled.
func (l SeatLedger) HasSeat() bool {
	return l.Scheduled < l.Capacity
}

// CapacityLedger reads seat usage for an offering inside an enrollment transaction.
type CapacityLedger struct{}

// NewCapacityLedger constructs the ledger.
func NewCapacityLedger() *CapacityLedger {
	return &CapacityLedger{}
}

// Evaluate locks the offering row, then counts its scheduled enrollments on the
// same transaction. The lock is held until the transaction ends, so a second
// evaluate for the same offering waits for this one to commit or roll back.
func (l *CapacityLedger) Evaluate(ctx context.Context, tx repository.EnrollmentTx, semesterID, courseCode string) (*SeatLedger, error) {
	offering, err := tx.LockOffering(ctx, semesterID, courseCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class offering not found")
		}
		return nil, storeError(err, "failed to lock class offering")
	}

	scheduled, err := tx.CountEnrollments(ctx, semesterID, courseCode, models.EnrollmentStatusScheduled)
	if err != nil {
		return nil, storeError(err, "failed to count scheduled enrollments")
	}
	if scheduled > offering.Capacity {
		return nil, appErrors.WrapAs(
			fmt.Errorf("offering %s/%s has %d scheduled for %d seats", semesterID, courseCode, scheduled, offering.Capacity),
			appErrors.ErrInternal, "capacity exceeded")
	}

	return &SeatLedger{Offering: *offering, Scheduled: scheduled, Capacity: offering.Capacity}, nil
}
