package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	reservationIDPrefix = "rsv_"
	mailJobIDPrefix     = "mail_"
)

// ServiceDeps bundles collaborators required to construct a Service.
type ServiceDeps struct {
	Store        Store
	Publisher    Publisher
	OwnerEmail   string
	ContactPhone string
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       *zap.Logger
}

// SubmitCommand carries a form submission plus the visitor context it arrived with.
type SubmitCommand struct {
	Request   Request
	Language  string
	SessionID string
}

// Service validates reservations, stores the lead, and queues the two notification mails.
type Service struct {
	store     Store
	publisher Publisher
	composer  *composer
	clock     func() time.Time
	newID     func() string
	newJobID  func() string
	logger    *zap.Logger
}

// NewService wires dependencies into a Service.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("reservation service: store is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("reservation service: publisher is required")
	}
	owner := strings.TrimSpace(deps.OwnerEmail)
	if owner == "" {
		return nil, errors.New("reservation service: owner email is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return reservationIDPrefix + ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:     deps.Store,
		publisher: deps.Publisher,
		composer:  newComposer(owner, strings.TrimSpace(deps.ContactPhone)),
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		newJobID:  func() string { return mailJobIDPrefix + ulid.Make().String() },
		logger:    logger,
	}, nil
}

// Submit stores the reservation and queues the owner notification followed by the visitor confirmation.
// A failed confirmation is logged but does not fail the submission once the owner has been notified.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (Reservation, error) {
	req, err := cmd.Request.Normalize()
	if err != nil {
		return Reservation{}, err
	}

	res := Reservation{
		ID:         s.newID(),
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Phone:      req.Phone,
		Email:      req.Email,
		Company:    req.Company,
		Website:    req.Website,
		Comments:   req.Comments,
		SMSConsent: req.SMSConsent,
		Language:   strings.TrimSpace(cmd.Language),
		SessionID:  strings.TrimSpace(cmd.SessionID),
		CreatedAt:  s.clock(),
	}
	logger := s.logger.With(zap.String("reservation_id", res.ID))

	if err := s.store.Create(ctx, res); err != nil {
		logger.Error("store reservation failed", zap.Error(err))
		return Reservation{}, fmt.Errorf("%w: store: %v", ErrUnavailable, err)
	}

	owner, err := s.composer.Owner(res)
	if err != nil {
		return Reservation{}, err
	}
	if err := s.publish(ctx, owner); err != nil {
		logger.Error("queue owner notification failed", zap.Error(err))
		return Reservation{}, fmt.Errorf("%w: owner notification: %v", ErrUnavailable, err)
	}

	confirmation, err := s.composer.Confirmation(res)
	if err == nil {
		err = s.publish(ctx, confirmation)
	}
	if err != nil {
		logger.Warn("queue customer confirmation failed", zap.Error(err))
	}

	logger.Info("reservation submitted", zap.Bool("sms_consent", res.SMSConsent))
	return res, nil
}

func (s *Service) publish(ctx context.Context, job MailJob) error {
	job.ID = s.newJobID()
	job.CreatedAt = s.clock()
	_, err := s.publisher.PublishMail(ctx, job)
	return err
}
