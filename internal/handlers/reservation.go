package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/cdjcoder/Lennox-Local-GHB/internal/reservation"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/httpx"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/requestctx"
)

const maxReservationBodyBytes = 16 << 10

// ReservationSubmitter is the slice of reservation.Service the relay needs.
type ReservationSubmitter interface {
	Submit(ctx context.Context, cmd reservation.SubmitCommand) (reservation.Reservation, error)
}

// ReservationHandler relays the landing page reservation form.
type ReservationHandler struct {
	service  ReservationSubmitter
	language func(*http.Request) string
}

// NewReservationHandler constructs the relay. language may be nil.
func NewReservationHandler(service ReservationSubmitter, language func(*http.Request) string) *ReservationHandler {
	return &ReservationHandler{service: service, language: language}
}

type reservationResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	ReservationID string `json:"reservationId,omitempty"`
}

// ReservationCORS answers preflight requests for cross-origin form posts.
func ReservationCORS(allowedOrigins []string, idempotencyHeader string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	headers := []string{"Content-Type"}
	if idempotencyHeader != "" {
		headers = append(headers, idempotencyHeader)
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: headers,
		MaxAge:         300,
	})
}

func (h *ReservationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httpx.WriteJSON(w, http.StatusMethodNotAllowed, reservationResponse{Message: "Only POST requests are allowed"})
		return
	}

	var req reservation.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxReservationBodyBytes)).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, reservationResponse{Message: "Invalid request body"})
		return
	}

	cmd := reservation.SubmitCommand{
		Request:   req,
		SessionID: requestctx.SessionID(r.Context()),
	}
	if h.language != nil {
		cmd.Language = h.language(r)
	}

	res, err := h.service.Submit(r.Context(), cmd)
	if err != nil {
		if errors.Is(err, reservation.ErrInvalidInput) {
			httpx.WriteJSON(w, http.StatusBadRequest, reservationResponse{Message: reservation.VisitorMessage(err)})
			return
		}
		requestctx.Logger(r.Context()).Error("reservation relay failed", zap.Error(err))
		httpx.WriteJSON(w, http.StatusInternalServerError, reservationResponse{Message: "Failed to send email"})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, reservationResponse{
		Success:       true,
		Message:       "Email sent successfully!",
		ReservationID: res.ID,
	})
}
