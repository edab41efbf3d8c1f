package reservation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

type recordingPublisher struct {
	mu      sync.Mutex
	jobs    []MailJob
	failOn  MailKind
	failErr error
}

func (p *recordingPublisher) PublishMail(_ context.Context, job MailJob) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn != "" && job.Kind == p.failOn {
		return "", p.failErr
	}
	p.jobs = append(p.jobs, job)
	return job.ID, nil
}

type failingStore struct{ err error }

func (s failingStore) Create(context.Context, Reservation) error { return s.err }

func newTestService(t *testing.T, store Store, publisher Publisher) *Service {
	t.Helper()
	now := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	svc, err := NewService(ServiceDeps{
		Store:        store,
		Publisher:    publisher,
		OwnerEmail:   "owner@example.com",
		ContactPhone: "(562) 282-9498",
		Clock:        func() time.Time { return now },
		IDGenerator:  func() string { return "rsv_test" },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func validRequest() Request {
	return Request{
		FirstName:  "Jane",
		LastName:   "Doe",
		Phone:      " 562-555-0100 ",
		Email:      "jane@example.com",
		Comments:   "<script>alert(1)</script>",
		SMSConsent: true,
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceDeps{Publisher: &recordingPublisher{}, OwnerEmail: "o@example.com"}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := NewService(ServiceDeps{Store: NewMemoryStore(), OwnerEmail: "o@example.com"}); err == nil {
		t.Fatalf("expected error without publisher")
	}
	if _, err := NewService(ServiceDeps{Store: NewMemoryStore(), Publisher: &recordingPublisher{}}); err == nil {
		t.Fatalf("expected error without owner email")
	}
}

func TestServiceSubmitValidation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Request)
		message string
	}{
		{name: "missing email", mutate: func(r *Request) { r.Email = "  " }, message: "Email and phone are required fields"},
		{name: "missing phone", mutate: func(r *Request) { r.Phone = "" }, message: "Email and phone are required fields"},
		{name: "invalid email", mutate: func(r *Request) { r.Email = "not-an-email" }, message: "Invalid email address"},
		{name: "display name email", mutate: func(r *Request) { r.Email = "Jane <jane@example.com>" }, message: "Invalid email address"},
		{name: "over-long email", mutate: func(r *Request) { r.Email = strings.Repeat("a", 60) + "@" + strings.Repeat("b", 210) + ".example.com" }, message: "Invalid email address"},
		{name: "over-long phone", mutate: func(r *Request) { r.Phone = strings.Repeat("5", 41) }, message: "Invalid phone number"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewMemoryStore()
			publisher := &recordingPublisher{}
			svc := newTestService(t, store, publisher)

			req := validRequest()
			tc.mutate(&req)
			_, err := svc.Submit(context.Background(), SubmitCommand{Request: req})
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if got := VisitorMessage(err); got != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, got)
			}
			if len(store.List()) != 0 || len(publisher.jobs) != 0 {
				t.Fatalf("invalid submission must not be stored or published")
			}
		})
	}
}

func TestServiceSubmitStoresAndQueuesMail(t *testing.T) {
	store := NewMemoryStore()
	publisher := &recordingPublisher{}
	svc := newTestService(t, store, publisher)

	res, err := svc.Submit(context.Background(), SubmitCommand{Request: validRequest(), Language: "es", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.ID != "rsv_test" || res.Phone != "562-555-0100" || res.Language != "es" || res.SessionID != "sess-1" {
		t.Fatalf("unexpected reservation %#v", res)
	}

	stored := store.List()
	if len(stored) != 1 || stored[0].ID != res.ID {
		t.Fatalf("expected stored reservation, got %#v", stored)
	}

	if len(publisher.jobs) != 2 {
		t.Fatalf("expected 2 mail jobs, got %d", len(publisher.jobs))
	}
	owner, confirmation := publisher.jobs[0], publisher.jobs[1]

	if owner.Kind != MailOwnerNotification || owner.To != "owner@example.com" || owner.ReplyTo != "jane@example.com" {
		t.Fatalf("unexpected owner job %#v", owner)
	}
	if owner.Subject != "New Spot Reservation from Lennox Local Ads Flyer Website" {
		t.Fatalf("unexpected owner subject %q", owner.Subject)
	}
	for _, want := range []string{"Jane Doe", "562-555-0100", "Not provided", "Yes"} {
		if !strings.Contains(owner.HTML, want) {
			t.Fatalf("owner body missing %q: %s", want, owner.HTML)
		}
	}
	if strings.Contains(owner.HTML, "<script>") {
		t.Fatalf("owner body must escape markup: %s", owner.HTML)
	}

	if confirmation.Kind != MailCustomerConfirmation || confirmation.To != "jane@example.com" {
		t.Fatalf("unexpected confirmation job %#v", confirmation)
	}
	if confirmation.From != "Lennox Local Ads Flyer <owner@example.com>" {
		t.Fatalf("unexpected confirmation sender %q", confirmation.From)
	}
	for _, want := range []string{"Thank you for your reservation, Jane!", "(562) 282-9498", "owner@example.com"} {
		if !strings.Contains(confirmation.HTML, want) {
			t.Fatalf("confirmation body missing %q: %s", want, confirmation.HTML)
		}
	}
	if owner.ID == "" || owner.ID == confirmation.ID || owner.ReservationID != res.ID {
		t.Fatalf("jobs need distinct ids linked to the reservation: %#v %#v", owner, confirmation)
	}
}

func TestNormalizeClipsOnCharacterBoundary(t *testing.T) {
	req := validRequest()
	req.Comments = strings.Repeat("x", maxCommentsLength-1) + "ñandú"
	req.Company = strings.Repeat("é", maxFieldLength)

	out, err := req.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !utf8.ValidString(out.Comments) || !utf8.ValidString(out.Company) {
		t.Fatalf("clipped fields must stay valid UTF-8")
	}
	if out.Comments != strings.Repeat("x", maxCommentsLength-1) {
		t.Fatalf("expected the split character dropped, got tail %q", out.Comments[len(out.Comments)-4:])
	}
	if len(out.Company) != maxFieldLength || strings.Count(out.Company, "é") != maxFieldLength/2 {
		t.Fatalf("unexpected company length %d", len(out.Company))
	}
}

func TestNormalizeKeepsContactFieldsIntact(t *testing.T) {
	req := validRequest()
	req.Email = strings.Repeat("a", 64) + "@" + strings.Repeat("b", 170) + ".example.com"
	out, err := req.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.Email != req.Email {
		t.Fatalf("email within limit must not be altered, got %q", out.Email)
	}
}

func TestServiceSubmitDefaultsEmptyComments(t *testing.T) {
	publisher := &recordingPublisher{}
	svc := newTestService(t, NewMemoryStore(), publisher)

	req := validRequest()
	req.Comments = ""
	req.SMSConsent = false
	if _, err := svc.Submit(context.Background(), SubmitCommand{Request: req}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !strings.Contains(publisher.jobs[0].HTML, "No comments") || !strings.Contains(publisher.jobs[0].HTML, "No</span>") {
		t.Fatalf("expected defaults in owner body: %s", publisher.jobs[0].HTML)
	}
}

func TestServiceSubmitStoreFailure(t *testing.T) {
	publisher := &recordingPublisher{}
	svc := newTestService(t, failingStore{err: errors.New("boom")}, publisher)

	_, err := svc.Submit(context.Background(), SubmitCommand{Request: validRequest()})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(publisher.jobs) != 0 {
		t.Fatalf("no mail should be queued when storing fails")
	}
}

func TestServiceSubmitOwnerPublishFailure(t *testing.T) {
	publisher := &recordingPublisher{failOn: MailOwnerNotification, failErr: errors.New("queue down")}
	svc := newTestService(t, NewMemoryStore(), publisher)

	if _, err := svc.Submit(context.Background(), SubmitCommand{Request: validRequest()}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestServiceSubmitConfirmationFailureStillSucceeds(t *testing.T) {
	publisher := &recordingPublisher{failOn: MailCustomerConfirmation, failErr: errors.New("queue down")}
	svc := newTestService(t, NewMemoryStore(), publisher)

	if _, err := svc.Submit(context.Background(), SubmitCommand{Request: validRequest()}); err != nil {
		t.Fatalf("expected success once the owner is notified, got %v", err)
	}
	if len(publisher.jobs) != 1 || publisher.jobs[0].Kind != MailOwnerNotification {
		t.Fatalf("expected only the owner job, got %#v", publisher.jobs)
	}
}

func TestMemoryStoreRejectsDuplicateIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, Reservation{ID: "rsv_1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, Reservation{ID: "rsv_1"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}
