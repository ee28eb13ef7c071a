package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/backend/internal/models"
)

// memoryLedger is an in-memory Ledger. Serialize takes a per-key mutex,
// mirroring the advisory-lock behavior of the database implementation.
type memoryLedger struct {
	mu     sync.Mutex
	events []*models.UsageEvent
	locks  map[string]*sync.Mutex
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{locks: make(map[string]*sync.Mutex)}
}

func (l *memoryLedger) Insert(_ context.Context, event *models.UsageEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *memoryLedger) Aggregate(_ context.Context, userID, feature string, since time.Time, agg models.Aggregation) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total int64
	for _, e := range l.events {
		if e.UserID != userID || e.Feature != feature || e.CreatedAt.Before(since) {
			continue
		}
		if agg == models.AggregateCount {
			total++
		} else {
			total += e.Quantity
		}
	}
	return total, nil
}

func (l *memoryLedger) Summarize(_ context.Context, userID, feature string, since time.Time) ([]FeatureUsage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	byFeature := make(map[string]*FeatureUsage)
	var order []string
	for _, e := range l.events {
		if e.UserID != userID || e.CreatedAt.Before(since) {
			continue
		}
		if feature != "" && e.Feature != feature {
			continue
		}
		f, ok := byFeature[e.Feature]
		if !ok {
			f = &FeatureUsage{Feature: e.Feature}
			byFeature[e.Feature] = f
			order = append(order, e.Feature)
		}
		f.Events++
		f.Quantity += e.Quantity
	}

	var out []FeatureUsage
	for _, name := range order {
		out = append(out, *byFeature[name])
	}
	return out, nil
}

func (l *memoryLedger) Serialize(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}

// staticLimits serves fixed limit rows per plan+feature
type staticLimits map[string][]models.UsageLimit

func (s staticLimits) LimitsFor(_ context.Context, planID, feature string) ([]models.UsageLimit, error) {
	return s[planID+"/"+feature], nil
}

// staticPlans maps every user to a fixed plan
type staticPlans string

func (s staticPlans) PlanFor(context.Context, string) (string, error) {
	return string(s), nil
}

func newTestTracker(ledger Ledger, limits []models.UsageLimit) *Tracker {
	return NewTracker(ledger, staticLimits{
		"free/" + models.FeatureAIFeedback: limits,
	}, staticPlans("free"))
}

func TestTrackerCheckLimits(t *testing.T) {
	ctx := context.Background()

	countLimit := []models.UsageLimit{
		{PlanID: "free", Feature: models.FeatureAIFeedback, Period: models.PeriodDaily, Value: 2, Aggregation: models.AggregateCount},
	}

	t.Run("under the limit passes", func(t *testing.T) {
		ledger := newMemoryLedger()
		tracker := newTestTracker(ledger, countLimit)

		_, err := tracker.Consume(ctx, "u1", models.FeatureAIFeedback, "generate", 1, nil)
		require.NoError(t, err)

		assert.NoError(t, tracker.CheckLimits(ctx, "u1", models.FeatureAIFeedback))
	})

	t.Run("at the limit rejects", func(t *testing.T) {
		ledger := newMemoryLedger()
		tracker := newTestTracker(ledger, countLimit)

		for i := 0; i < 2; i++ {
			_, err := tracker.Consume(ctx, "u1", models.FeatureAIFeedback, "generate", 1, nil)
			require.NoError(t, err)
		}

		err := tracker.CheckLimits(ctx, "u1", models.FeatureAIFeedback)
		var quotaErr *QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, models.FeatureAIFeedback, quotaErr.Feature)
		assert.Equal(t, models.PeriodDaily, quotaErr.Period)
		assert.Equal(t, int64(2), quotaErr.Limit)
		assert.Equal(t, int64(2), quotaErr.Used)
	})

	t.Run("no limit rows means unlimited", func(t *testing.T) {
		tracker := newTestTracker(newMemoryLedger(), nil)
		assert.NoError(t, tracker.CheckLimits(ctx, "u1", models.FeatureAIFeedback))
	})

	t.Run("other users do not count", func(t *testing.T) {
		ledger := newMemoryLedger()
		tracker := newTestTracker(ledger, countLimit)

		for i := 0; i < 2; i++ {
			_, err := tracker.Consume(ctx, "u1", models.FeatureAIFeedback, "generate", 1, nil)
			require.NoError(t, err)
		}

		assert.NoError(t, tracker.CheckLimits(ctx, "u2", models.FeatureAIFeedback))
	})
}

func TestTrackerConsumeSum(t *testing.T) {
	ctx := context.Background()
	sumLimit := []models.UsageLimit{
		{PlanID: "free", Feature: models.FeatureAIFeedback, Period: models.PeriodMonthly, Value: 30000, Aggregation: models.AggregateSum},
	}

	ledger := newMemoryLedger()
	tracker := newTestTracker(ledger, sumLimit)

	_, err := tracker.Consume(ctx, "u1", models.FeatureAIFeedback, "generate", 29500, nil)
	require.NoError(t, err)

	// 29500 used: a 600-unit request would overshoot, a 400-unit one fits
	_, err = tracker.Consume(ctx, "u1", models.FeatureAIFeedback, "generate", 600, nil)
	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, int64(29500), quotaErr.Used)

	_, err = tracker.Consume(ctx, "u1", models.FeatureAIFeedback, "generate", 400, nil)
	require.NoError(t, err)

	used, err := ledger.Aggregate(ctx, "u1", models.FeatureAIFeedback, time.Time{}, models.AggregateSum)
	require.NoError(t, err)
	assert.Equal(t, int64(29900), used)
}

func TestTrackerConsumeOrder(t *testing.T) {
	// Daily is listed first, so with both exhausted the daily limit is the
	// one reported
	ctx := context.Background()
	limits := []models.UsageLimit{
		{PlanID: "free", Feature: models.FeatureAIFeedback, Period: models.PeriodDaily, Value: 1, Aggregation: models.AggregateCount},
		{PlanID: "free", Feature: models.FeatureAIFeedback, Period: models.PeriodMonthly, Value: 1, Aggregation: models.AggregateCount},
	}

	tracker := newTestTracker(newMemoryLedger(), limits)

	_, err := tracker.Consume(ctx, "u1", models.FeatureAIFeedback, "generate", 1, nil)
	require.NoError(t, err)

	_, err = tracker.Consume(ctx, "u1", models.FeatureAIFeedback, "generate", 1, nil)
	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, models.PeriodDaily, quotaErr.Period)
}

func TestTrackerConsumeConcurrency(t *testing.T) {
	ctx := context.Background()
	limits := []models.UsageLimit{
		{PlanID: "free", Feature: models.FeatureAIFeedback, Period: models.PeriodTotal, Value: 10, Aggregation: models.AggregateCount},
	}

	ledger := newMemoryLedger()
	tracker := newTestTracker(ledger, limits)

	const workers = 40
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.Consume(ctx, "u1", models.FeatureAIFeedback, "generate", 1, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		if err == nil {
			ok++
		} else {
			rejected++
		}
	}

	assert.Equal(t, 10, ok)
	assert.Equal(t, workers-10, rejected)

	used, err := ledger.Aggregate(ctx, "u1", models.FeatureAIFeedback, time.Time{}, models.AggregateCount)
	require.NoError(t, err)
	assert.Equal(t, int64(10), used)
}

func TestTrackerSummary(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	tracker := newTestTracker(ledger, nil)

	_, err := tracker.Consume(ctx, "u1", models.FeatureAIFeedback, "generate", 500, nil)
	require.NoError(t, err)
	_, err = tracker.RecordUsage(ctx, "u1", models.FeatureAIHints, "hint", 1, nil)
	require.NoError(t, err)

	summary, err := tracker.Summary(ctx, "u1", "", models.PeriodMonthly)
	require.NoError(t, err)
	assert.Equal(t, "u1", summary.UserID)
	assert.Equal(t, "free", summary.PlanID)
	assert.Equal(t, models.PeriodMonthly, summary.Period)
	require.Len(t, summary.Features, 2)

	single, err := tracker.Summary(ctx, "u1", models.FeatureAIHints, models.PeriodMonthly)
	require.NoError(t, err)
	require.Len(t, single.Features, 1)
	assert.Equal(t, models.FeatureAIHints, single.Features[0].Feature)
	assert.Equal(t, int64(1), single.Features[0].Events)
}
