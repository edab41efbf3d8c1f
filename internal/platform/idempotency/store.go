package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a relay response can be replayed for a retried submission.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle of a stored key.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ClaimState is what Acquire found for a key.
type ClaimState int

const (
	// ClaimNew: the caller owns the key and must run the handler.
	ClaimNew ClaimState = iota
	// ClaimReplay: a finished response is stored in Record.
	ClaimReplay
	// ClaimInFlight: another request holds the key.
	ClaimInFlight
)

// Claim is the result of Acquire.
type Claim struct {
	State  ClaimState
	Record Record
}

// Record is the stored form of a key. Redis keeps it as JSON.
type Record struct {
	Key             string              `json:"key"`
	Fingerprint     string              `json:"fingerprint"`
	Status          Status              `json:"status"`
	ResponseStatus  int                 `json:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `json:"responseHeaders,omitempty"`
	ResponseBody    []byte              `json:"responseBody,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	ExpiresAt       time.Time           `json:"expiresAt"`
}

// Response is the captured handler output saved for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store is implemented by MemoryStore and RedisStore.
type Store interface {
	Acquire(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused for a different submission.
var ErrFingerprintMismatch = errors.New("idempotency: key already used for a different request")

// storageKey hashes the scoped key so visitor-supplied text never reaches the backend verbatim.
func storageKey(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func pendingRecord(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// claimFor maps an existing, unexpired record to the claim a second request sees.
func claimFor(record Record, fingerprint string) (Claim, error) {
	if record.Fingerprint != fingerprint {
		return Claim{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return Claim{State: ClaimReplay, Record: record}, nil
	}
	return Claim{State: ClaimInFlight, Record: record}, nil
}

// replayHeaders keeps the headers worth replaying; hop-by-hop headers and cookies are dropped.
func replayHeaders(header http.Header) map[string][]string {
	kept := make(map[string][]string, len(header))
	for name, values := range header {
		switch canonical := http.CanonicalHeaderKey(name); canonical {
		case "Content-Length", "Date", "Connection", "Keep-Alive", "Set-Cookie", "Te", "Trailers", "Transfer-Encoding", "Upgrade":
		default:
			kept[canonical] = append([]string(nil), values...)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func completedRecord(record Record, resp Response, now time.Time, ttl time.Duration) Record {
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = replayHeaders(resp.Headers)
	record.ResponseBody = nil
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)
	return record
}
