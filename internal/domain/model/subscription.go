package model

import (
	"time"

	"billing-service/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusCreated  SubscriptionStatus = "created"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusPaused   SubscriptionStatus = "paused"
	SubscriptionStatusDeleted  SubscriptionStatus = "deleted"
)

// allowed lists legal targets per source status. ACTIVE -> ACTIVE is a renewal.
var allowed = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusCreated:  {SubscriptionStatusActive, SubscriptionStatusCanceled, SubscriptionStatusDeleted},
	SubscriptionStatusActive:   {SubscriptionStatusActive, SubscriptionStatusExpired, SubscriptionStatusPaused, SubscriptionStatusCanceled, SubscriptionStatusDeleted},
	SubscriptionStatusPaused:   {SubscriptionStatusActive, SubscriptionStatusExpired, SubscriptionStatusCanceled, SubscriptionStatusDeleted},
	SubscriptionStatusExpired:  {SubscriptionStatusDeleted},
	SubscriptionStatusCanceled: {SubscriptionStatusDeleted},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to SubscriptionStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Subscription is a user's entitlement window for a plan.
type Subscription struct {
	ID        int64
	UserID    string
	PlanID    int64
	Status    SubscriptionStatus
	StartedAt time.Time
	EndedAt   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewActiveSubscription starts an ACTIVE subscription at now for the plan duration.
func NewActiveSubscription(userID string, plan *Plan, now time.Time) (*Subscription, error) {
	if userID == "" || plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	return &Subscription{
		UserID:    userID,
		PlanID:    plan.ID,
		Status:    SubscriptionStatusActive,
		StartedAt: now,
		EndedAt:   plan.EndDate(now),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Subscription) transition(to SubscriptionStatus, now time.Time) error {
	if !CanTransition(s.Status, to) {
		return domain.ErrInvalidTransition
	}
	s.Status = to
	s.UpdatedAt = now
	return nil
}

// Extend moves the window to now + plan duration and switches to the paid plan.
// The new end is computed from now, not from the previous end.
func (s *Subscription) Extend(plan *Plan, now time.Time) error {
	if plan.IsZero() {
		return domain.ErrInvalidArgument
	}
	if err := s.transition(SubscriptionStatusActive, now); err != nil {
		return err
	}
	s.PlanID = plan.ID
	s.EndedAt = plan.EndDate(now)
	return nil
}

func (s *Subscription) Expire(now time.Time) error {
	return s.transition(SubscriptionStatusExpired, now)
}

// Revoke deletes the entitlement immediately, used on refunds.
func (s *Subscription) Revoke(now time.Time) error {
	if s.Status == SubscriptionStatusDeleted {
		return nil
	}
	if err := s.transition(SubscriptionStatusDeleted, now); err != nil {
		return err
	}
	s.EndedAt = now
	return nil
}

// Pause pushes the end date forward by days.
func (s *Subscription) Pause(days int, now time.Time) error {
	if s.Status != SubscriptionStatusActive {
		return domain.ErrInvalidTransition
	}
	if err := s.transition(SubscriptionStatusPaused, now); err != nil {
		return err
	}
	s.EndedAt = s.EndedAt.AddDate(0, 0, days)
	return nil
}

func (s *Subscription) Resume(now time.Time) error {
	if s.Status != SubscriptionStatusPaused {
		return domain.ErrInvalidTransition
	}
	return s.transition(SubscriptionStatusActive, now)
}

func (s *Subscription) Cancel(now time.Time) error {
	return s.transition(SubscriptionStatusCanceled, now)
}

// IsDue reports whether an ACTIVE subscription reached its end at now.
func (s *Subscription) IsDue(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && !s.EndedAt.After(now)
}
