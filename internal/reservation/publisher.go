package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Publisher hands a composed mail job to whatever delivers it.
type Publisher interface {
	PublishMail(ctx context.Context, job MailJob) (string, error)
}

// PubSubPublisher publishes mail jobs to a Pub/Sub topic consumed by the mail worker.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a Pub/Sub backed mail job publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub mail publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishMail enqueues a mail job on the configured topic.
func (p *PubSubPublisher) PublishMail(ctx context.Context, job MailJob) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub mail publisher: not initialised")
	}

	data, err := p.marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal mail job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "jobId", job.ID)
	setAttr(attrs, "kind", string(job.Kind))
	setAttr(attrs, "reservationId", job.ReservationID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish mail job: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// LogPublisher writes mail jobs to the log instead of a queue. Used when no Pub/Sub project is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher returns a publisher that only logs.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// PublishMail logs the job metadata and returns the job id.
func (p *LogPublisher) PublishMail(_ context.Context, job MailJob) (string, error) {
	p.logger.Info("mail job queued",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("reservation_id", job.ReservationID),
		zap.String("subject", job.Subject),
	)
	return job.ID, nil
}
