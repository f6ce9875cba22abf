package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"billing-service/internal/domain"
	"billing-service/internal/domain/ports/adapter"
	"billing-service/internal/domain/ports/repository"
)

var _ adapter.GatewayRegistry = (*Registry)(nil)

// Registry maps provider names to gateways and resolves local payment
// provider ids through the provider table. Id lookups are cached in process.
type Registry struct {
	mu        sync.RWMutex
	gateways  map[string]adapter.PaymentGateway
	providers repository.PaymentProviderRepository
	ids       *gocache.Cache
}

func NewRegistry(providers repository.PaymentProviderRepository) *Registry {
	return &Registry{
		gateways:  make(map[string]adapter.PaymentGateway),
		providers: providers,
		ids:       gocache.New(5*time.Minute, 10*time.Minute),
	}
}

func (r *Registry) Register(g adapter.PaymentGateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[strings.ToLower(g.Name())] = g
}

// ByName returns the gateway registered under name.
func (r *Registry) ByName(name string) (adapter.PaymentGateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("gateway %q: %w", name, domain.ErrProviderNotFound)
	}
	return g, nil
}

// Parser returns the webhook parser of the named gateway.
func (r *Registry) Parser(name string) (adapter.WebhookParser, error) {
	g, err := r.ByName(name)
	if err != nil {
		return nil, err
	}
	p, ok := g.(adapter.WebhookParser)
	if !ok {
		return nil, fmt.Errorf("gateway %q has no webhook parser: %w", name, domain.ErrProviderNotFound)
	}
	return p, nil
}

func (r *Registry) ForProvider(ctx context.Context, providerID int64) (adapter.PaymentGateway, error) {
	key := strconv.FormatInt(providerID, 10)
	if name, ok := r.ids.Get(key); ok {
		return r.ByName(name.(string))
	}
	p, err := r.providers.FindByID(ctx, repository.NoTX, providerID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrProviderNotFound
	}
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, domain.ErrProviderNotFound
	}
	r.ids.SetDefault(key, p.Name)
	return r.ByName(p.Name)
}

// ProviderID resolves the local id of the named provider.
func (r *Registry) ProviderID(ctx context.Context, name string) (int64, error) {
	p, err := r.providers.FindByName(ctx, repository.NoTX, name)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, domain.ErrProviderNotFound
	}
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}
