//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"

	"billing-service/internal/domain"
	"billing-service/internal/domain/model"
	"billing-service/internal/domain/ports/repository"
)

func TestPaymentRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewPaymentRepo(testPool)
	tm := NewTxManager(testPool)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	newPayment := func(t *testing.T, planID, providerID int64, ext string, status model.PaymentStatus, created time.Time) *model.Payment {
		t.Helper()
		p, err := model.NewPayment("user-1", planID, providerID, decimal.RequireFromString("300.00"), model.CurrencyRUB)
		if err != nil {
			t.Fatalf("NewPayment: %v", err)
		}
		if ext != "" {
			p.ExternalPaymentID = &ext
		}
		p.Status = status
		p.CreatedAt, p.UpdatedAt = created, created
		if err := repo.Create(ctx, repository.NoTX, p); err != nil {
			t.Fatalf("Create: %v", err)
		}
		return p
	}

	t.Run("should save and find a payment", func(t *testing.T) {
		cleanup(t)
		planID, providerID := seedCatalog(t)
		p := newPayment(t, planID, providerID, "ext-1", model.PaymentStatusPending, base)
		if p.ID == 0 {
			t.Fatal("expected id to be assigned")
		}

		found, err := repo.FindByExternalID(ctx, repository.NoTX, "ext-1")
		if err != nil {
			t.Fatalf("FindByExternalID: %v", err)
		}
		if found.ID != p.ID || found.Status != model.PaymentStatusPending || !found.Amount.Equal(decimal.NewFromInt(300)) {
			t.Errorf("unexpected payment: %+v", found)
		}
		if !found.CreatedAt.Equal(base) {
			t.Errorf("expected created_at %s, got %s", base, found.CreatedAt)
		}
		if _, err := repo.FindByExternalID(ctx, repository.NoTX, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should reject duplicate external id and non-positive amount", func(t *testing.T) {
		cleanup(t)
		planID, providerID := seedCatalog(t)
		newPayment(t, planID, providerID, "ext-dup", model.PaymentStatusPending, base)

		dup, _ := model.NewPayment("user-2", planID, providerID, decimal.NewFromInt(10), model.CurrencyRUB)
		ext := "ext-dup"
		dup.ExternalPaymentID = &ext
		if err := repo.Create(ctx, repository.NoTX, dup); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}

		bad, _ := model.NewPayment("user-2", planID, providerID, decimal.NewFromInt(10), model.CurrencyRUB)
		bad.Amount = decimal.Zero
		if err := repo.Create(ctx, repository.NoTX, bad); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Errorf("expected ErrInvalidAmount, got %v", err)
		}
	})

	t.Run("should filter by status and window", func(t *testing.T) {
		cleanup(t)
		planID, providerID := seedCatalog(t)
		newPayment(t, planID, providerID, "a", model.PaymentStatusPending, base.Add(-2*time.Hour))
		newPayment(t, planID, providerID, "b", model.PaymentStatusPending, base.Add(-30*time.Minute))
		newPayment(t, planID, providerID, "c", model.PaymentStatusSucceeded, base.Add(-10*time.Minute))
		newPayment(t, planID, providerID, "", model.PaymentStatusPending, base.Add(-5*time.Minute))
		newPayment(t, planID, providerID, "d", model.PaymentStatusPending, base) // CreatedTo is exclusive

		ids, err := repo.ListExternalIDs(ctx, repository.NoTX, repository.PaymentFilter{
			Statuses:    []model.PaymentStatus{model.PaymentStatusPending},
			ProviderID:  providerID,
			CreatedFrom: base.Add(-time.Hour),
			CreatedTo:   base,
		})
		if err != nil {
			t.Fatalf("ListExternalIDs: %v", err)
		}
		if len(ids) != 1 || ids[0] != "b" {
			t.Errorf("expected [b], got %v", ids)
		}

		all, err := repo.List(ctx, repository.NoTX, repository.PaymentFilter{
			Statuses: []model.PaymentStatus{model.PaymentStatusPending},
			Limit:    2,
		})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 2 || all[0].External() != "a" {
			t.Errorf("expected oldest two pending payments, got %d", len(all))
		}
	})

	t.Run("should update status only from allowed statuses", func(t *testing.T) {
		cleanup(t)
		planID, providerID := seedCatalog(t)
		p := newPayment(t, planID, providerID, "cas", model.PaymentStatusPending, base)

		ok, err := repo.UpdateStatusIf(ctx, repository.NoTX, p.ID, []model.PaymentStatus{model.PaymentStatusPending}, model.PaymentStatusExpired)
		if err != nil || !ok {
			t.Fatalf("expected first CAS to apply, got %v %v", ok, err)
		}
		ok, err = repo.UpdateStatusIf(ctx, repository.NoTX, p.ID, []model.PaymentStatus{model.PaymentStatusPending}, model.PaymentStatusCanceled)
		if err != nil || ok {
			t.Fatalf("expected second CAS to be a no-op, got %v %v", ok, err)
		}
		found, _ := repo.FindByID(ctx, repository.NoTX, p.ID)
		if found.Status != model.PaymentStatusExpired {
			t.Errorf("expected expired, got %s", found.Status)
		}
	})

	t.Run("should update inside a transaction", func(t *testing.T) {
		cleanup(t)
		planID, providerID := seedCatalog(t)
		newPayment(t, planID, providerID, "tx-1", model.PaymentStatusPending, base)

		err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			p, err := repo.FindByExternalID(ctx, tx, "tx-1")
			if err != nil {
				return err
			}
			p.MarkSucceeded("bank_card", "pm-1", base.Add(time.Minute))
			return repo.Update(ctx, tx, p)
		})
		if err != nil {
			t.Fatalf("WithTx: %v", err)
		}
		p, _ := repo.FindByExternalID(ctx, repository.NoTX, "tx-1")
		if p.Status != model.PaymentStatusSucceeded || p.PaymentMethodID == nil || *p.PaymentMethodID != "pm-1" {
			t.Errorf("unexpected payment after update: %+v", p)
		}
	})

	t.Run("should roll back on error", func(t *testing.T) {
		cleanup(t)
		planID, providerID := seedCatalog(t)
		newPayment(t, planID, providerID, "rb", model.PaymentStatusPending, base)

		boom := errors.New("boom")
		err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			p, err := repo.FindByExternalID(ctx, tx, "rb")
			if err != nil {
				return err
			}
			p.Status = model.PaymentStatusSucceeded
			if err := repo.Update(ctx, tx, p); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		p, _ := repo.FindByExternalID(ctx, repository.NoTX, "rb")
		if p.Status != model.PaymentStatusPending {
			t.Errorf("expected rollback to keep pending, got %s", p.Status)
		}
	})
}
