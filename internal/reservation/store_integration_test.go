package reservation

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/config"
	pfirestore "github.com/cdjcoder/Lennox-Local-GHB/internal/platform/firestore"
)

func TestFirestoreStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "reservation-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close() })

	store, err := NewFirestoreStore(provider)
	if err != nil {
		t.Fatalf("NewFirestoreStore: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res := Reservation{
		ID:        reservationIDPrefix + ulid.Make().String(),
		FirstName: "Jane",
		Phone:     "562-555-0100",
		Email:     "jane@example.com",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := store.Create(ctx, res); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, res); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on second create, got %v", err)
	}

	got, err := store.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Email != res.Email || !got.CreatedAt.Equal(res.CreatedAt) {
		t.Fatalf("unexpected reservation %#v", got)
	}
}
