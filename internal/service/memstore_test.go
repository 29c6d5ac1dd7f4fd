package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	"github.com/noah-isme/class-scheduler-api/internal/repository"
)

type enrollmentKey struct {
	semesterID string
	studentID  string
	courseCode string
}

// memStore is an in-memory EnrollmentStore. Row locks are emulated with one
// mutex per offering and one RWMutex per student, held until the tx ends.
type memStore struct {
	mu          sync.Mutex
	offerings   map[models.OfferingKey]models.ClassOffering
	students    map[string]models.Student
	enrollments map[enrollmentKey]models.Enrollment
	seq         int64

	offeringLocks map[models.OfferingKey]*sync.Mutex
	studentLocks  map[string]*sync.RWMutex

	beginErr      error
	lockConflicts int
	lockErr       error
	promoteErr    error
	begins        int
	waitlistReads int
}

func newMemStore() *memStore {
	return &memStore{
		offerings:     make(map[models.OfferingKey]models.ClassOffering),
		students:      make(map[string]models.Student),
		enrollments:   make(map[enrollmentKey]models.Enrollment),
		offeringLocks: make(map[models.OfferingKey]*sync.Mutex),
		studentLocks:  make(map[string]*sync.RWMutex),
	}
}

func (s *memStore) addOffering(semesterID, courseCode string, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.OfferingKey{SemesterID: semesterID, CourseCode: courseCode}
	s.offerings[key] = models.ClassOffering{SemesterID: semesterID, CourseCode: courseCode, Capacity: capacity}
}

func (s *memStore) addStudent(id, first, last string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[id] = models.Student{ID: id, FirstName: first, LastName: last}
}

// addEnrollment bypasses the engine, for seeding corrupt states.
func (s *memStore) addEnrollment(e models.Enrollment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.Seq = s.seq
	s.enrollments[enrollmentKey{e.SemesterID, e.StudentID, e.CourseCode}] = e
}

func (s *memStore) status(semesterID, studentID, courseCode string) (models.EnrollmentStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[enrollmentKey{semesterID, studentID, courseCode}]
	return e.Status, ok
}

func (s *memStore) counts(semesterID, courseCode string) (scheduled, waitlisted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.enrollments {
		if k.semesterID != semesterID || k.courseCode != courseCode {
			continue
		}
		if e.Status == models.EnrollmentStatusScheduled {
			scheduled++
		} else {
			waitlisted++
		}
	}
	return scheduled, waitlisted
}

func (s *memStore) enrollmentsOf(studentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.enrollments {
		if k.studentID == studentID {
			n++
		}
	}
	return n
}

func (s *memStore) hasStudent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.students[id]
	return ok
}

func (s *memStore) hasOffering(semesterID, courseCode string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.offerings[models.OfferingKey{SemesterID: semesterID, CourseCode: courseCode}]
	return ok
}

func (s *memStore) beginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins
}

func (s *memStore) Begin(ctx context.Context) (repository.EnrollmentTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &memTx{
		store:     s,
		offerings: make(map[models.OfferingKey]*sync.Mutex),
		shared:    make(map[string]*sync.RWMutex),
		exclusive: make(map[string]*sync.RWMutex),
	}, nil
}

func (s *memStore) offeringLock(key models.OfferingKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.offeringLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.offeringLocks[key] = l
	}
	return l
}

func (s *memStore) studentLock(id string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.studentLocks[id]
	if !ok {
		l = &sync.RWMutex{}
		s.studentLocks[id] = l
	}
	return l
}

type memTx struct {
	store     *memStore
	offerings map[models.OfferingKey]*sync.Mutex
	shared    map[string]*sync.RWMutex
	exclusive map[string]*sync.RWMutex
	undo      []func()
	done      bool
}

func (t *memTx) LockOffering(ctx context.Context, semesterID, courseCode string) (*models.ClassOffering, error) {
	key := models.OfferingKey{SemesterID: semesterID, CourseCode: courseCode}
	t.store.mu.Lock()
	if t.store.lockConflicts > 0 {
		t.store.lockConflicts--
		t.store.mu.Unlock()
		return nil, fmt.Errorf("lock offering: %w", repository.ErrSerialization)
	}
	if t.store.lockErr != nil {
		err := t.store.lockErr
		t.store.mu.Unlock()
		return nil, err
	}
	t.store.mu.Unlock()

	if _, held := t.offerings[key]; !held {
		l := t.store.offeringLock(key)
		l.Lock()
		t.offerings[key] = l
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	offering, ok := t.store.offerings[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &offering, nil
}

func (t *memTx) GetStudent(ctx context.Context, studentID string) (*models.Student, error) {
	_, sharedHeld := t.shared[studentID]
	_, exclusiveHeld := t.exclusive[studentID]
	if !sharedHeld && !exclusiveHeld {
		l := t.store.studentLock(studentID)
		l.RLock()
		t.shared[studentID] = l
	}
	return t.readStudent(studentID)
}

func (t *memTx) LockStudent(ctx context.Context, studentID string) (*models.Student, error) {
	if _, held := t.exclusive[studentID]; !held {
		l := t.store.studentLock(studentID)
		l.Lock()
		t.exclusive[studentID] = l
	}
	return t.readStudent(studentID)
}

func (t *memTx) readStudent(studentID string) (*models.Student, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	student, ok := t.store.students[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &student, nil
}

func (t *memTx) CountEnrollments(ctx context.Context, semesterID, courseCode string, status models.EnrollmentStatus) (int, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	n := 0
	for k, e := range t.store.enrollments {
		if k.semesterID == semesterID && k.courseCode == courseCode && e.Status == status {
			n++
		}
	}
	return n, nil
}

func (t *memTx) FindEnrollment(ctx context.Context, semesterID, studentID, courseCode string) (*models.Enrollment, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	e, ok := t.store.enrollments[enrollmentKey{semesterID, studentID, courseCode}]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (t *memTx) InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	key := enrollmentKey{enrollment.SemesterID, enrollment.StudentID, enrollment.CourseCode}
	if _, exists := t.store.enrollments[key]; exists {
		return fmt.Errorf("insert enrollment: %w", repository.ErrDuplicate)
	}
	t.store.seq++
	enrollment.Seq = t.store.seq
	t.store.enrollments[key] = *enrollment
	t.undo = append(t.undo, func() { delete(t.store.enrollments, key) })
	return nil
}

func (t *memTx) DeleteEnrollment(ctx context.Context, semesterID, studentID, courseCode string) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	key := enrollmentKey{semesterID, studentID, courseCode}
	if !t.deleteEnrollmentLocked(key) {
		return 0, nil
	}
	return 1, nil
}

func (t *memTx) deleteEnrollmentLocked(key enrollmentKey) bool {
	prior, ok := t.store.enrollments[key]
	if !ok {
		return false
	}
	delete(t.store.enrollments, key)
	t.undo = append(t.undo, func() { t.store.enrollments[key] = prior })
	return true
}

func (t *memTx) FindOldestWaitlisted(ctx context.Context, semesterID, courseCode string) (*models.Enrollment, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.waitlistReads++
	var oldest *models.Enrollment
	for k, e := range t.store.enrollments {
		if k.semesterID != semesterID || k.courseCode != courseCode || e.Status != models.EnrollmentStatusWaitlisted {
			continue
		}
		if oldest == nil || e.RequestedAt.Before(oldest.RequestedAt) ||
			(e.RequestedAt.Equal(oldest.RequestedAt) && e.Seq < oldest.Seq) {
			candidate := e
			oldest = &candidate
		}
	}
	return oldest, nil
}

func (t *memTx) UpdateEnrollmentStatus(ctx context.Context, semesterID, studentID, courseCode string, status models.EnrollmentStatus) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.promoteErr != nil {
		return t.store.promoteErr
	}
	key := enrollmentKey{semesterID, studentID, courseCode}
	prior, ok := t.store.enrollments[key]
	if !ok || status != models.EnrollmentStatusScheduled || prior.Status != models.EnrollmentStatusWaitlisted {
		return fmt.Errorf("update enrollment status: %w", repository.ErrInvalidTransition)
	}
	updated := prior
	updated.Status = status
	t.store.enrollments[key] = updated
	t.undo = append(t.undo, func() { t.store.enrollments[key] = prior })
	return nil
}

func (t *memTx) ListEnrollmentsForStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var list []models.Enrollment
	for k, e := range t.store.enrollments {
		if k.studentID == studentID {
			list = append(list, e)
		}
	}
	return list, nil
}

func (t *memTx) DeleteAllEnrollmentsForStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var removed []models.Enrollment
	for k, e := range t.store.enrollments {
		if k.studentID == studentID {
			removed = append(removed, e)
			t.deleteEnrollmentLocked(k)
		}
	}
	return removed, nil
}

func (t *memTx) DeleteStudent(ctx context.Context, studentID string) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	prior, ok := t.store.students[studentID]
	if !ok {
		return 0, nil
	}
	delete(t.store.students, studentID)
	t.undo = append(t.undo, func() { t.store.students[studentID] = prior })
	return 1, nil
}

func (t *memTx) DeleteAllEnrollmentsForOffering(ctx context.Context, semesterID, courseCode string) ([]models.AffectedEnrollment, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var affected []models.AffectedEnrollment
	for k, e := range t.store.enrollments {
		if k.semesterID != semesterID || k.courseCode != courseCode {
			continue
		}
		student := t.store.students[k.studentID]
		affected = append(affected, models.AffectedEnrollment{
			StudentID:   k.studentID,
			FirstName:   student.FirstName,
			LastName:    student.LastName,
			PriorStatus: e.Status,
		})
		t.deleteEnrollmentLocked(k)
	}
	return affected, nil
}

func (t *memTx) DeleteOffering(ctx context.Context, semesterID, courseCode string) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	key := models.OfferingKey{SemesterID: semesterID, CourseCode: courseCode}
	prior, ok := t.store.offerings[key]
	if !ok {
		return 0, nil
	}
	delete(t.store.offerings, key)
	t.undo = append(t.undo, func() { t.store.offerings[key] = prior })
	return 1, nil
}

func (t *memTx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.finish()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return nil
	}
	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()
	t.finish()
	return nil
}

func (t *memTx) finish() {
	t.done = true
	t.undo = nil
	for _, l := range t.offerings {
		l.Unlock()
	}
	for _, l := range t.exclusive {
		l.Unlock()
	}
	for _, l := range t.shared {
		l.RUnlock()
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.EnrollmentEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event models.EnrollmentEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []models.EnrollmentEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EnrollmentEventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

var fixedNow = time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }
