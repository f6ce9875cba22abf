package model

import (
	"time"

	"github.com/shopspring/decimal"

	"billing-service/internal/domain"
)

type DurationUnit string

const (
	DurationUnitDays  DurationUnit = "days"
	DurationUnitMonth DurationUnit = "month"
	DurationUnitYear  DurationUnit = "year"
)

// Plan is read-only from the reconciliation side; the catalog is managed elsewhere.
type Plan struct {
	ID           int64
	Name         string
	Duration     int
	DurationUnit DurationUnit
	IsRecurring  bool
	IsActive     bool
	Prices       []Price
	CreatedAt    time.Time
}

// Price is the amount charged for a plan in one currency.
type Price struct {
	ID       int64
	PlanID   int64
	Currency Currency
	Amount   decimal.Decimal
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == 0 }

// NewPlan validates and constructs a plan.
func NewPlan(id int64, name string, duration int, unit DurationUnit, recurring bool, prices ...Price) (*Plan, error) {
	if id <= 0 || name == "" || duration <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	switch unit {
	case DurationUnitDays, DurationUnitMonth, DurationUnitYear:
	default:
		return nil, domain.ErrInvalidArgument
	}
	for _, pr := range prices {
		if !pr.Amount.IsPositive() {
			return nil, domain.ErrInvalidAmount
		}
	}
	return &Plan{
		ID:           id,
		Name:         name,
		Duration:     duration,
		DurationUnit: unit,
		IsRecurring:  recurring,
		IsActive:     true,
		Prices:       prices,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// EndDate returns from + plan duration. Month and year arithmetic keep the
// day of month and clamp to the last day when the target month is shorter
// (Jan 31 + 1 month = Feb 28/29).
func (p *Plan) EndDate(from time.Time) time.Time {
	switch p.DurationUnit {
	case DurationUnitMonth:
		return addMonths(from, p.Duration)
	case DurationUnitYear:
		return addMonths(from, 12*p.Duration)
	default:
		return from.AddDate(0, 0, p.Duration)
	}
}

// PriceFor returns the single price configured for currency.
func (p *Plan) PriceFor(currency Currency) (*Price, error) {
	var found *Price
	for i := range p.Prices {
		if p.Prices[i].Currency != currency {
			continue
		}
		if found != nil {
			return nil, domain.ErrPriceNotFound
		}
		found = &p.Prices[i]
	}
	if found == nil {
		return nil, domain.ErrPriceNotFound
	}
	return found, nil
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// PaymentProvider maps a local provider id to a registered gateway name.
type PaymentProvider struct {
	ID       int64
	Name     string
	IsActive bool
}
