//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"billing-service/internal/domain"
)

// --- Payment Model Tests ---

func TestNewPayment(t *testing.T) {
	t.Run("should create a payment in created status", func(t *testing.T) {
		p, err := NewPayment("user-1", 1, 1, decimal.RequireFromString("300"), CurrencyRUB)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if p.Status != PaymentStatusCreated {
			t.Errorf("expected status created, got %s", p.Status)
		}
		if p.Amount.StringFixed(2) != "300.00" {
			t.Errorf("expected amount 300.00, got %s", p.Amount.StringFixed(2))
		}
		if p.ExternalPaymentID != nil {
			t.Error("expected external id to be nil before provider call")
		}
	})

	t.Run("should reject non-positive amounts", func(t *testing.T) {
		// 0.004 rounds to 0.00 at storage precision
		for _, amt := range []string{"0", "-1", "-0.01", "0.004"} {
			p, err := NewPayment("user-1", 1, 1, decimal.RequireFromString(amt), CurrencyRUB)
			if !errors.Is(err, domain.ErrInvalidAmount) {
				t.Errorf("amount %s: expected ErrInvalidAmount, got %v", amt, err)
			}
			if p != nil {
				t.Errorf("amount %s: expected nil payment", amt)
			}
		}
	})

	t.Run("should round to two decimals", func(t *testing.T) {
		p, err := NewPayment("user-1", 1, 1, decimal.RequireFromString("0.006"), CurrencyRUB)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if p.Amount.StringFixed(2) != "0.01" || !p.Amount.IsPositive() {
			t.Errorf("expected amount 0.01, got %s", p.Amount)
		}
	})

	t.Run("should reject missing identifiers", func(t *testing.T) {
		if _, err := NewPayment("", 1, 1, decimal.NewFromInt(1), CurrencyRUB); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestPaymentMarkSucceededKeepsKnownMethod(t *testing.T) {
	p, _ := NewPayment("user-1", 1, 1, decimal.NewFromInt(10), CurrencyRUB)
	p.MarkSucceeded("bank_card", "pm-1", time.Now())
	p.MarkSucceeded("", "", time.Now())
	if p.Status != PaymentStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", p.Status)
	}
	if p.PaymentMethod == nil || *p.PaymentMethod != "bank_card" {
		t.Errorf("expected payment method to be kept")
	}
	if p.PaymentMethodID == nil || *p.PaymentMethodID != "pm-1" {
		t.Errorf("expected payment method id to be kept")
	}
}

func TestParseCurrency(t *testing.T) {
	c, err := ParseCurrency(" rub ")
	if err != nil || c != CurrencyRUB {
		t.Fatalf("expected RUB, got %q %v", c, err)
	}
	if _, err := ParseCurrency("XYZ"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

// --- Plan Model Tests ---

func TestPlanEndDate(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		duration int
		unit     DurationUnit
		from     time.Time
		want     time.Time
	}{
		{"one month", 1, DurationUnitMonth, start, time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)},
		{"one year", 1, DurationUnitYear, start, time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"thirty days", 30, DurationUnitDays, start, time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)},
		{"month end clamps in leap year", 1, DurationUnitMonth, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"month end clamps", 1, DurationUnitMonth, time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC), time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"leap day plus a year", 1, DurationUnitYear, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"three months across year", 3, DurationUnitMonth, time.Date(2024, 11, 30, 0, 0, 0, 0, time.UTC), time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := NewPlan(1, "basic", tc.duration, tc.unit, true)
			if err != nil {
				t.Fatalf("NewPlan: %v", err)
			}
			if got := plan.EndDate(tc.from); !got.Equal(tc.want) {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestPlanPriceFor(t *testing.T) {
	plan, err := NewPlan(1, "basic", 1, DurationUnitMonth, true,
		Price{ID: 1, PlanID: 1, Currency: CurrencyRUB, Amount: decimal.NewFromInt(300)},
		Price{ID: 2, PlanID: 1, Currency: CurrencyUSD, Amount: decimal.NewFromInt(5)},
	)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	pr, err := plan.PriceFor(CurrencyRUB)
	if err != nil || !pr.Amount.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected 300 RUB, got %v %v", pr, err)
	}
	if _, err := plan.PriceFor(CurrencyEUR); !errors.Is(err, domain.ErrPriceNotFound) {
		t.Errorf("expected ErrPriceNotFound, got %v", err)
	}

	plan.Prices = append(plan.Prices, Price{ID: 3, PlanID: 1, Currency: CurrencyRUB, Amount: decimal.NewFromInt(400)})
	if _, err := plan.PriceFor(CurrencyRUB); !errors.Is(err, domain.ErrPriceNotFound) {
		t.Errorf("expected ErrPriceNotFound for ambiguous price, got %v", err)
	}
}

func TestNewPlanValidation(t *testing.T) {
	if _, err := NewPlan(1, "x", 0, DurationUnitDays, false); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for zero duration, got %v", err)
	}
	if _, err := NewPlan(1, "x", 1, "week", false); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for unknown unit, got %v", err)
	}
	if _, err := NewPlan(1, "x", 1, DurationUnitDays, false, Price{Amount: decimal.Zero}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

// --- Subscription Model Tests ---

func TestSubscriptionLifecycle(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	plan, _ := NewPlan(1, "basic", 1, DurationUnitMonth, true)

	sub, err := NewActiveSubscription("user-1", plan, now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if sub.Status != SubscriptionStatusActive || !sub.EndedAt.Equal(now.AddDate(0, 1, 0)) {
		t.Fatalf("unexpected subscription: %+v", sub)
	}

	t.Run("extend computes end from now", func(t *testing.T) {
		s := *sub
		later := now.AddDate(0, 0, 10)
		if err := s.Extend(plan, later); err != nil {
			t.Fatalf("Extend: %v", err)
		}
		if !s.EndedAt.Equal(plan.EndDate(later)) {
			t.Errorf("expected %s, got %s", plan.EndDate(later), s.EndedAt)
		}
	})

	t.Run("pause pushes end and resume restores active", func(t *testing.T) {
		s := *sub
		if err := s.Pause(7, now); err != nil {
			t.Fatalf("Pause: %v", err)
		}
		if s.Status != SubscriptionStatusPaused || !s.EndedAt.Equal(sub.EndedAt.AddDate(0, 0, 7)) {
			t.Errorf("unexpected paused subscription: %+v", s)
		}
		if err := s.Pause(7, now); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition on double pause, got %v", err)
		}
		if err := s.Resume(now); err != nil || s.Status != SubscriptionStatusActive {
			t.Errorf("Resume: %v status=%s", err, s.Status)
		}
	})

	t.Run("revoke deletes and stamps end", func(t *testing.T) {
		s := *sub
		at := now.Add(time.Hour)
		if err := s.Revoke(at); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		if s.Status != SubscriptionStatusDeleted || !s.EndedAt.Equal(at) {
			t.Errorf("unexpected revoked subscription: %+v", s)
		}
		if err := s.Revoke(at.Add(time.Hour)); err != nil || !s.EndedAt.Equal(at) {
			t.Errorf("second revoke should be a no-op, got %v end=%s", err, s.EndedAt)
		}
	})

	t.Run("expired cannot be extended", func(t *testing.T) {
		s := *sub
		if err := s.Expire(now); err != nil {
			t.Fatalf("Expire: %v", err)
		}
		if err := s.Extend(plan, now); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("is due at end", func(t *testing.T) {
		if sub.IsDue(sub.EndedAt.Add(-time.Second)) {
			t.Error("should not be due before end")
		}
		if !sub.IsDue(sub.EndedAt) {
			t.Error("should be due at end")
		}
	})
}

func TestCanTransitionDeletedIsTerminal(t *testing.T) {
	for _, to := range []SubscriptionStatus{SubscriptionStatusActive, SubscriptionStatusExpired, SubscriptionStatusPaused, SubscriptionStatusCanceled, SubscriptionStatusCreated} {
		if CanTransition(SubscriptionStatusDeleted, to) {
			t.Errorf("deleted -> %s should be rejected", to)
		}
	}
}

// --- ProviderPayment Tests ---

func TestParsePaymentMetadata(t *testing.T) {
	md, err := ParsePaymentMetadata(map[string]string{"plan_id": "3", "user_id": "u-1", "payment_provider_id": "2"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if md.PlanID != 3 || md.PaymentProviderID != 2 || md.UserID != "u-1" {
		t.Errorf("unexpected metadata: %+v", md)
	}
	if _, err := ParsePaymentMetadata(map[string]string{"plan_id": "x"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestProviderPaymentToPayment(t *testing.T) {
	now := time.Now().UTC()
	pp := &ProviderPayment{
		ID:                "ext-1",
		Status:            PaymentStatusSucceeded,
		Amount:            decimal.RequireFromString("300.00"),
		Currency:          CurrencyRUB,
		PaymentMethodType: "bank_card",
		PaymentMethodID:   "pm-1",
		MethodSaved:       true,
		Metadata:          PaymentMetadata{PaymentProviderID: 1, UserID: "u-1", PlanID: 2},
	}
	p, err := pp.ToPayment(now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.External() != "ext-1" || p.Status != PaymentStatusSucceeded || *p.PaymentMethodID != "pm-1" {
		t.Errorf("unexpected payment: %+v", p)
	}
	if !p.CreatedAt.Equal(now) {
		t.Errorf("expected created_at to fall back to now, got %s", p.CreatedAt)
	}
	pp.CreatedAt = now.Add(-time.Hour)
	if p, _ = pp.ToPayment(now); !p.CreatedAt.Equal(pp.CreatedAt) {
		t.Errorf("expected provider created_at, got %s", p.CreatedAt)
	}

	pp.MetadataErr = domain.ErrInvalidArgument
	if _, err := pp.ToPayment(now); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected metadata error, got %v", err)
	}
}
