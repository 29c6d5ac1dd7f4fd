package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/class-scheduler-api/internal/models"
	"github.com/noah-isme/class-scheduler-api/pkg/jobs"
	"github.com/noah-isme/class-scheduler-api/pkg/notify"
)

const notificationQueueName = "enrollment-events"

// NotificationService publishes committed enrollment events in the background.
// Delivery failures are retried by the queue and never reach the caller.
type NotificationService struct {
	publisher notify.Publisher
	subject   string
	queue     *jobs.Queue
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewNotificationService constructs the dispatcher. Call Start before Publish.
func NewNotificationService(publisher notify.Publisher, subject string, metrics *MetricsService, queueCfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueCfg.Logger == nil {
		queueCfg.Logger = logger
	}
	s := &NotificationService{publisher: publisher, subject: subject, metrics: metrics, logger: logger}
	s.queue = jobs.NewQueue(notificationQueueName, s.deliver, queueCfg)
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stats reports delivery counters of the underlying queue.
func (s *NotificationService) Stats() jobs.Stats {
	return s.queue.Stats()
}

// Stop delivers what is already queued, then closes the publisher.
func (s *NotificationService) Stop() {
	s.queue.Stop()
	if err := s.publisher.Close(); err != nil {
		s.logger.Warn("close event publisher", zap.Error(err))
	}
}

// Publish queues the event for delivery.
func (s *NotificationService) Publish(ctx context.Context, event models.EnrollmentEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	job := jobs.Job{ID: event.ID, Type: string(event.Type), Payload: event}
	if err := s.queue.EnqueueContext(ctx, job); err != nil {
		s.metrics.RecordEventPublished(string(event.Type), false)
		s.logger.Warn("enrollment event dropped",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.EnrollmentEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, s.subject, payload); err != nil {
		s.metrics.RecordEventPublished(string(event.Type), false)
		return err
	}
	s.metrics.RecordEventPublished(string(event.Type), true)
	return nil
}
