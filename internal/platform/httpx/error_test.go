package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-7")
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("unsupported_language", "language is\nnot supported", http.StatusBadRequest).
		WithDetails(map[string]any{"supported": []string{"en", "es"}, "status": 999}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "unsupported_language" || body["message"] != "language is not supported" {
		t.Fatalf("unexpected body %#v", body)
	}
	if body["status"] != float64(http.StatusBadRequest) {
		t.Fatalf("details must not override status, got %#v", body["status"])
	}
	if body["request_id"] != "req-7" {
		t.Fatalf("expected request id, got %#v", body["request_id"])
	}
	if _, ok := body["trace_id"]; ok {
		t.Fatalf("trace id must be omitted when absent")
	}
	if supported, ok := body["supported"].([]any); !ok || len(supported) != 2 {
		t.Fatalf("expected supported languages detail, got %#v", body["supported"])
	}
}

func TestNewErrorDefaultsAndClipping(t *testing.T) {
	err := NewError("x", strings.Repeat("ñ", maxMessageLength), 0)
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected default 500, got %d", err.Status)
	}
	if len(err.Message) != maxMessageLength || !utf8.ValidString(err.Message) {
		t.Fatalf("message must be clipped on a character boundary, got %d bytes", len(err.Message))
	}
}
