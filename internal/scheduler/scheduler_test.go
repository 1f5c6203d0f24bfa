package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tirtabiz/tirta/internal/clock"
	invoicedomain "github.com/tirtabiz/tirta/internal/invoice/domain"
	subscriptiondomain "github.com/tirtabiz/tirta/internal/subscription/domain"
	"go.uber.org/zap/zaptest"
)

type fakeInvoiceSvc struct {
	invoicedomain.Service

	generatedPeriods []string
	sweeps           int
	generateErr      error
}

func (f *fakeInvoiceSvc) GenerateForAllMeters(ctx context.Context, period string) (*invoicedomain.BatchResult, error) {
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	f.generatedPeriods = append(f.generatedPeriods, period)
	return &invoicedomain.BatchResult{}, nil
}

func (f *fakeInvoiceSvc) SweepOverdue(ctx context.Context) (*invoicedomain.SweepResult, error) {
	f.sweeps++
	return &invoicedomain.SweepResult{}, nil
}

type fakeSubscriptionSvc struct {
	subscriptiondomain.Service

	subs       []*subscriptiondomain.Subscription
	increments []snowflake.ID
	pipeChecks []snowflake.ID
}

func (f *fakeSubscriptionSvc) ListActive(ctx context.Context) ([]*subscriptiondomain.Subscription, error) {
	return f.subs, nil
}

func (f *fakeSubscriptionSvc) IncrementUsage(ctx context.Context, id snowflake.ID, delta int64) (*subscriptiondomain.SettlementResult, error) {
	f.increments = append(f.increments, id)
	return &subscriptiondomain.SettlementResult{}, nil
}

func (f *fakeSubscriptionSvc) IsBalanceZero(ctx context.Context, id snowflake.ID) (*subscriptiondomain.PipeCheckResult, error) {
	f.pipeChecks = append(f.pipeChecks, id)
	return &subscriptiondomain.PipeCheckResult{}, nil
}

func newScheduler(t *testing.T, invoices *fakeInvoiceSvc, subs *fakeSubscriptionSvc, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(Params{
		Log:             zaptest.NewLogger(t),
		Clock:           clock.NewFakeClock(time.Date(2026, 4, 2, 3, 0, 0, 0, time.UTC)),
		InvoiceSvc:      invoices,
		SubscriptionSvc: subs,
		Config:          cfg,
	})
	require.NoError(t, err)
	return s
}

func TestRunOnceBillsPreviousMonth(t *testing.T) {
	invoices := &fakeInvoiceSvc{}
	subs := &fakeSubscriptionSvc{
		subs: []*subscriptiondomain.Subscription{{ID: 1}, {ID: 2}},
	}
	s := newScheduler(t, invoices, subs, Config{})

	require.NoError(t, s.RunOnce(context.Background()))

	assert.Equal(t, []string{"2026-03"}, invoices.generatedPeriods)
	assert.Equal(t, 1, invoices.sweeps)
	assert.Len(t, subs.increments, 2)
	assert.Len(t, subs.pipeChecks, 2)
}

func TestRunOnceJobFilter(t *testing.T) {
	invoices := &fakeInvoiceSvc{}
	subs := &fakeSubscriptionSvc{
		subs: []*subscriptiondomain.Subscription{{ID: 1}},
	}
	s := newScheduler(t, invoices, subs, Config{EnabledJobs: []string{"sweep_overdue"}})

	require.NoError(t, s.RunOnce(context.Background()))

	assert.Empty(t, invoices.generatedPeriods)
	assert.Equal(t, 1, invoices.sweeps)
	assert.Empty(t, subs.increments)
	assert.Empty(t, subs.pipeChecks)
}

func TestRunOnceCollectsJobErrors(t *testing.T) {
	boom := errors.New("db down")
	invoices := &fakeInvoiceSvc{generateErr: boom}
	subs := &fakeSubscriptionSvc{}
	s := newScheduler(t, invoices, subs, Config{})

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	// One failed job does not stop the others.
	assert.Equal(t, 1, invoices.sweeps)
}

func TestNewRejectsMissingDeps(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
