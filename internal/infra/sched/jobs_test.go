//go:build !integration

package sched_test

import (
	"context"
	"testing"
	"time"

	"billing-service/internal/config"
	"billing-service/internal/infra/sched"
	"billing-service/internal/usecase"
)

type fakeReconcile struct{ calls []string }

func (f *fakeReconcile) MatchSucceeded(context.Context) (usecase.Report, error) {
	f.calls = append(f.calls, "succeeded")
	return usecase.Report{Applied: 1}, nil
}

func (f *fakeReconcile) MatchPending(context.Context) (usecase.Report, error) {
	f.calls = append(f.calls, "pending")
	return usecase.Report{}, nil
}

func (f *fakeReconcile) ExpireStale(context.Context) (usecase.Report, error) {
	f.calls = append(f.calls, "expire")
	return usecase.Report{Expired: 2}, nil
}

type fakeRenewal struct{ calls int }

func (f *fakeRenewal) RenewDue(context.Context) (usecase.Report, error) {
	f.calls++
	return usecase.Report{}, nil
}

type fakeSubs struct {
	usecase.SubscriptionUseCase
	grace time.Duration
	limit int
}

func (f *fakeSubs) ExpireDue(ctx context.Context, grace time.Duration, limit int) (usecase.Report, error) {
	f.grace, f.limit = grace, limit
	return usecase.Report{Checked: 4, Expired: 4}, nil
}

func TestNewJobs_WiresEveryJob(t *testing.T) {
	succeeded, pending, expire := &fakeReconcile{}, &fakeReconcile{}, &fakeReconcile{}
	ren, subs := &fakeRenewal{}, &fakeSubs{}
	cfg := config.WorkersConfig{
		GracePeriod:         72 * time.Hour,
		ExpireSubscriptions: config.JobConfig{BatchSize: 50},
	}
	jobs := sched.NewJobs(cfg, sched.Deps{
		MatchSucceeded: succeeded,
		MatchPending:   pending,
		ExpirePayments: expire,
		Renewal:        ren,
		Subscriptions:  subs,
	}, newLogger())
	if len(jobs) != len(sched.JobNames) {
		t.Fatalf("want %d jobs, got %d", len(sched.JobNames), len(jobs))
	}
	for _, name := range sched.JobNames {
		j, err := sched.Find(jobs, name)
		if err != nil {
			t.Fatalf("Find(%s): %v", name, err)
		}
		if _, err := j.RunOnce(context.Background()); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	// each matcher job drives its own instance
	for want, f := range map[string]*fakeReconcile{"succeeded": succeeded, "pending": pending, "expire": expire} {
		if len(f.calls) != 1 || f.calls[0] != want {
			t.Errorf("%s matcher got calls %v", want, f.calls)
		}
	}
	if ren.calls != 1 {
		t.Fatalf("renewal=%d", ren.calls)
	}
	if subs.grace != 72*time.Hour || subs.limit != 50 {
		t.Fatalf("expire-subscriptions got grace=%v limit=%d", subs.grace, subs.limit)
	}
}

func TestFind_Unknown(t *testing.T) {
	if _, err := sched.Find(nil, "nope"); err == nil {
		t.Fatalf("expected error")
	}
}
