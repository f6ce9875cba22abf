//go:build !integration

package payment

import (
	"context"
	"errors"
	"testing"

	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
	"billing-service/internal/domain/ports/repository"
)

type fakeProviders struct {
	byID  map[int64]*model.PaymentProvider
	calls int
}

func (f *fakeProviders) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.PaymentProvider, error) {
	f.calls++
	p, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeProviders) FindByName(ctx context.Context, tx repository.Tx, name string) (*model.PaymentProvider, error) {
	for _, p := range f.byID {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	providers := &fakeProviders{byID: map[int64]*model.PaymentProvider{
		1: {ID: 1, Name: "Sandbox", IsActive: true},
		2: {ID: 2, Name: "yookassa", IsActive: false},
		3: {ID: 3, Name: "stripe", IsActive: true},
	}}
	r := NewRegistry(providers)
	r.Register(NewSandboxGateway())

	g, err := r.ForProvider(ctx, 1)
	if err != nil || g.Name() != SandboxName {
		t.Fatalf("expected sandbox gateway, got %v %v", g, err)
	}
	if _, err := r.ForProvider(ctx, 1); err != nil || providers.calls != 1 {
		t.Errorf("expected cached lookup, calls=%d err=%v", providers.calls, err)
	}

	for id, want := range map[int64]error{2: domain.ErrProviderNotFound, 3: domain.ErrProviderNotFound, 9: domain.ErrProviderNotFound} {
		if _, err := r.ForProvider(ctx, id); !errors.Is(err, want) {
			t.Errorf("provider %d: expected %v, got %v", id, want, err)
		}
	}

	if _, err := r.Parser("sandbox"); err != nil {
		t.Errorf("Parser: %v", err)
	}
	if id, err := r.ProviderID(ctx, "Sandbox"); err != nil || id != 1 {
		t.Errorf("ProviderID: %d %v", id, err)
	}
}
