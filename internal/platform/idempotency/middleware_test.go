package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/requestctx"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func newReservationRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/send-email", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func TestMiddleware_MissingHeader(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))

	handlerCalled := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		handlerCalled = true
	})

	rr := httptest.NewRecorder()
	middleware(next).ServeHTTP(rr, newReservationRequest(`{"email":"a@b.co"}`, ""))

	if handlerCalled {
		t.Fatal("handler should not be invoked when header is missing")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_OptionalKeyPassesThrough(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithOptionalKey())

	var calls int
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newReservationRequest(`{"email":"a@b.co"}`, ""))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler to run for every keyless request, got %d", calls)
	}
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newReservationRequest(`{"email":"a@b.co"}`, "abc-123"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newReservationRequest(`{"email":"a@b.co"}`, "abc-123"))

	if calls != 1 {
		t.Fatalf("expected handler to be called once, got %d", calls)
	}
	if rr2.Code != http.StatusOK {
		t.Fatalf("expected replayed status 200, got %d", rr2.Code)
	}
	if rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header to be present")
	}
	if got := rr2.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content-type json, got %s", got)
	}
	if rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("expected response body %s, got %s", rr1.Body.String(), rr2.Body.String())
	}
}

func TestMiddleware_KeysAreScopedToSession(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for _, session := range []string{"visitor-a", "visitor-b"} {
		req := newReservationRequest(`{"email":"a@b.co"}`, "shared-key")
		req = req.WithContext(requestctx.WithSessionID(req.Context(), session))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected both sessions to reach the handler, got %d", calls)
	}
}

func TestMiddleware_ConflictingFingerprintReturnsConflict(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newReservationRequest(`{"email":"a@b.co"}`, "same-key"))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first request success, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newReservationRequest(`{"email":"other@b.co"}`, "same-key"))
	if rr2.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", rr2.Code)
	}
	assertErrorResponse(t, rr2.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_InFlightClaimReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler should not be invoked while the key is in flight")
		}))

	req := newReservationRequest(`{"email":"a@b.co"}`, "pending-key")
	body, err := readAndReplayBody(req)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	identity := extractRequester(req.Context())
	if _, err := store.Acquire(req.Context(), scopedKey("pending-key", identity), requestFingerprint(req, body, identity), fixedTime, time.Hour); err != nil {
		t.Fatalf("failed to seed claim: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for in-flight claim, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_SaveFailureReleasesClaim(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newReservationRequest(`{"email":"a@b.co"}`, "fail-key"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 response, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_store_error")
	if !store.released {
		t.Fatalf("expected claim to be released on failure")
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Acquire(ctx, "old", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := store.Acquire(ctx, "fresh", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(10*time.Minute), 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one expired record removed, got %d", removed)
	}
}

type stubStore struct {
	failSave bool
	released bool
}

func (s *stubStore) Acquire(context.Context, string, string, time.Time, time.Duration) (Claim, error) {
	return Claim{State: ClaimNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}

func TestMemoryStoreReplayDropsCookies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Acquire(ctx, "k", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Set-Cookie", "lla_session=abc")
	if err := store.SaveResponse(ctx, "k", "fp", Response{Status: http.StatusOK, Headers: headers, Body: []byte(`{}`)}, fixedTime, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	claim, err := store.Acquire(ctx, "k", "fp", fixedTime.Add(time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if claim.State != ClaimReplay {
		t.Fatalf("expected replay, got %v", claim.State)
	}
	if _, ok := claim.Record.ResponseHeaders["Set-Cookie"]; ok {
		t.Fatalf("cookies must not be replayed to another request")
	}
	if claim.Record.ResponseHeaders["Content-Type"][0] != "application/json" {
		t.Fatalf("expected content type kept, got %#v", claim.Record.ResponseHeaders)
	}
	if _, err := store.Acquire(ctx, "k", "other", fixedTime.Add(time.Minute), time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}
}
