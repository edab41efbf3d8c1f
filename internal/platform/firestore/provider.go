package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cdjcoder/Lennox-Local-GHB/internal/platform/config"
)

const clientDialTimeout = 10 * time.Second

var (
	// ErrProviderClosed is returned by Client after Close.
	ErrProviderClosed = errors.New("firestore: provider is closed")
	// ErrMissingProject is returned by Client when no project is configured.
	ErrMissingProject = errors.New("firestore: project id is required")
)

// Provider hands the reservation store a shared client, dialled on first use so
// a misconfigured database surfaces through readiness instead of blocking startup.
type Provider struct {
	projectID    string
	emulatorHost string

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// NewProvider builds a Provider from the SITE_FIRESTORE_* settings.
func NewProvider(cfg config.FirestoreConfig) *Provider {
	return &Provider{
		projectID:    strings.TrimSpace(cfg.ProjectID),
		emulatorHost: strings.TrimSpace(cfg.EmulatorHost),
	}
}

// Client returns the shared client. A failed dial is retried on the next call.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrProviderClosed
	}
	if p.client != nil {
		return p.client, nil
	}
	if p.projectID == "" {
		return nil, ErrMissingProject
	}

	ctx, cancel := context.WithTimeout(ctx, clientDialTimeout)
	defer cancel()

	var opts []option.ClientOption
	if p.emulatorHost != "" {
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(p.emulatorHost),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := firestore.NewClient(ctx, p.projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	p.client = client
	return client, nil
}

// Close releases the client. The Provider cannot be reused afterwards.
func (p *Provider) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	client := p.client
	p.client = nil
	if client == nil {
		return nil
	}
	return client.Close()
}
