package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/cdjcoder/Lennox-Local-GHB/internal/platform/firestore"
)

const reservationsCollection = "reservations"

// ErrDuplicate is returned when a reservation id is already stored.
var ErrDuplicate = errors.New("reservation: duplicate id")

// Store persists reservations.
type Store interface {
	Create(ctx context.Context, res Reservation) error
}

// MemoryStore keeps reservations in process. Suitable for development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Reservation
	order []string
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Reservation)}
}

// Create stores the reservation unless the id already exists.
func (s *MemoryStore) Create(_ context.Context, res Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[res.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, res.ID)
	}
	s.items[res.ID] = res
	s.order = append(s.order, res.ID)
	return nil
}

// List returns stored reservations in insertion order.
func (s *MemoryStore) List() []Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reservation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

// FirestoreStore persists reservations in the reservations collection.
type FirestoreStore struct {
	provider *pfirestore.Provider
}

// NewFirestoreStore constructs a Firestore-backed reservation store.
func NewFirestoreStore(provider *pfirestore.Provider) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("reservation store requires firestore provider")
	}
	return &FirestoreStore{provider: provider}, nil
}

// Create writes the reservation document keyed by its id.
func (s *FirestoreStore) Create(ctx context.Context, res Reservation) error {
	id := strings.TrimSpace(res.ID)
	if id == "" {
		return errors.New("reservation store: id is required")
	}
	doc, err := s.doc(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Create(ctx, res); err != nil {
		wrapped := pfirestore.WrapError("reservations.create", err)
		var fsErr *pfirestore.Error
		if errors.As(wrapped, &fsErr) && fsErr.IsConflict() {
			return fmt.Errorf("%w: %s", ErrDuplicate, id)
		}
		return wrapped
	}
	return nil
}

// Get loads a reservation by id.
func (s *FirestoreStore) Get(ctx context.Context, id string) (Reservation, error) {
	doc, err := s.doc(ctx, strings.TrimSpace(id))
	if err != nil {
		return Reservation{}, err
	}
	snap, err := doc.Get(ctx)
	if err != nil {
		return Reservation{}, pfirestore.WrapError("reservations.get", err)
	}
	var res Reservation
	if err := snap.DataTo(&res); err != nil {
		return Reservation{}, fmt.Errorf("decode reservation %s: %w", id, err)
	}
	return res, nil
}

func (s *FirestoreStore) doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(reservationsCollection).Doc(id), nil
}

var _ Store = (*FirestoreStore)(nil)
var _ Store = (*MemoryStore)(nil)
