// Package collection runs one collection pass: list subscriptions, resolve and price each of
// them, then hand the whole batch to the sender in a single delivery.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	lo "github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"azcost/domain/cloudspending"
	"azcost/domain/costs"
	"azcost/domain/hierarchy"
)

// ErrNoSubscriptions is returned when the listing succeeds but the caller can see no
// subscription at all, which almost always means the identity lacks reader access.
var ErrNoSubscriptions = errors.New("no accessible subscriptions")

type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context) ([]cloudspending.Subscription, error)
}

type Resolver interface {
	Resolve(ctx context.Context, subscriptionID string) hierarchy.Result
}

type Collector interface {
	Collect(ctx context.Context, subscriptionID string, p cloudspending.Period) costs.Result
}

// Sender delivers a batch. Backup only writes the local copy.
type Sender interface {
	Backup(runID string, records []cloudspending.SubscriptionRecord) (string, error)
	Send(ctx context.Context, runID string, records []cloudspending.SubscriptionRecord) error
}

// Options tune a run.
type Options struct {
	Days        int
	Currency    string
	Concurrency int
	// Limiter paces the start of each subscription. Nil means unpaced.
	Limiter *rate.Limiter
	// IDs and States restrict the listed subscriptions; empty means all.
	IDs    []string
	States []string
	DryRun bool
}

// Job wires the collaborators of a run.
type Job struct {
	Subscriptions SubscriptionLister
	Resolver      Resolver
	Collector     Collector
	Sender        Sender
	Options       Options

	// Now and NewRunID are replaced in tests.
	Now      func() time.Time
	NewRunID func() string
}

// Summary describes a finished run.
type Summary struct {
	RunID   string
	Period  cloudspending.Period
	Records []cloudspending.SubscriptionRecord
	Skipped []string
	Backup  string
}

// Run executes one pass. Only a failed subscription listing or a failed delivery is an
// error; problems with a single subscription skip it.
func (j *Job) Run(ctx context.Context) (*Summary, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	runID := uuid.NewString()
	if j.NewRunID != nil {
		runID = j.NewRunID()
	}
	started := now()
	sum := &Summary{RunID: runID, Period: cloudspending.LastDays(started, j.Options.Days)}
	slog.Info("collect.start", "run_id", runID, "from", sum.Period.StartDate(), "to", sum.Period.EndDate(),
		"dry_run", j.Options.DryRun)

	subs, err := j.Subscriptions.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil, ErrNoSubscriptions
	}
	subs = Filter(subs, j.Options.IDs, j.Options.States)
	slog.Info("collect.subscriptions", "run_id", runID, "count", len(subs))
	if len(subs) == 0 {
		slog.Warn("collect.empty_batch", "run_id", runID)
		return sum, nil
	}

	slots := make([]*cloudspending.SubscriptionRecord, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(j.Options.Concurrency, 1))
	for i, s := range subs {
		i, s := i, s
		g.Go(func() error {
			rec, err := j.collectOne(gctx, runID, s, sum.Period, started)
			if err != nil {
				slog.Error("collect.subscription.skipped", "run_id", runID, "subscription_id", s.ID, "error", err)
				return nil
			}
			slots[i] = &rec
			return nil
		})
	}
	_ = g.Wait()

	for i, rec := range slots {
		if rec == nil {
			sum.Skipped = append(sum.Skipped, subs[i].ID)
			continue
		}
		sum.Records = append(sum.Records, *rec)
	}
	slog.Info("collect.collected", "run_id", runID, "records", len(sum.Records), "skipped", len(sum.Skipped))

	if len(sum.Records) == 0 {
		slog.Warn("collect.empty_batch", "run_id", runID)
		return sum, nil
	}

	if j.Options.DryRun {
		path, err := j.Sender.Backup(runID, sum.Records)
		if err != nil {
			return sum, fmt.Errorf("failed to write payload backup: %w", err)
		}
		sum.Backup = path
		slog.Info("collect.dry_run", "run_id", runID, "backup", path)
		return sum, nil
	}

	if err := j.Sender.Send(ctx, runID, sum.Records); err != nil {
		return sum, fmt.Errorf("failed to deliver %d records: %w", len(sum.Records), err)
	}
	slog.Info("collect.done", "run_id", runID, "records", len(sum.Records), "elapsed", now().Sub(started))
	return sum, nil
}

// collectOne builds the record of one subscription. A panic in a collaborator is turned
// into an error so the remaining subscriptions still run.
func (j *Job) collectOne(ctx context.Context, runID string, s cloudspending.Subscription, p cloudspending.Period, generated time.Time) (rec cloudspending.SubscriptionRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while collecting: %v", r)
		}
	}()
	if j.Options.Limiter != nil {
		if err := j.Options.Limiter.Wait(ctx); err != nil {
			return rec, fmt.Errorf("failed to wait for rate limiter: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return rec, err
	}

	group := j.Resolver.Resolve(ctx, s.ID)
	spend := j.Collector.Collect(ctx, s.ID, p)
	rec = cloudspending.NewSubscriptionRecord(cloudspending.RecordInput{
		RunID:        runID,
		Subscription: s,
		GroupName:    group.Name,
		GroupPath:    group.Path,
		Cost:         spend.Cost,
		Budget:       spend.Budget,
		Currency:     j.Options.Currency,
		Period:       p,
		Generated:    generated,
	})
	slog.Info("collect.subscription.done", "run_id", runID, "subscription_id", s.ID,
		"management_group", rec.ManagementGroup, "hierarchy_strategy", group.Strategy,
		"cost", rec.CostAmount, "cost_source", spend.CostSource, "budget_source", spend.BudgetSource)
	return rec, nil
}

// Filter keeps subscriptions whose id is in ids and whose state is in states. Matching is
// case-insensitive and an empty list disables that filter.
func Filter(subs []cloudspending.Subscription, ids, states []string) []cloudspending.Subscription {
	idSet := lowerSet(ids)
	stateSet := lowerSet(states)
	return lo.Filter(subs, func(s cloudspending.Subscription, _ int) bool {
		if len(idSet) > 0 && !idSet[strings.ToLower(s.ID)] {
			return false
		}
		if len(stateSet) > 0 && !stateSet[strings.ToLower(s.State)] {
			return false
		}
		return true
	})
}

func lowerSet(values []string) map[string]bool {
	out := map[string]bool{}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out[strings.ToLower(v)] = true
		}
	}
	return out
}
