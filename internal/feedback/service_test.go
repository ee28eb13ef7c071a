package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/backend/internal/ai"
	"github.com/studyloop/backend/internal/cache"
	"github.com/studyloop/backend/internal/models"
	"github.com/studyloop/backend/internal/usage"
)

// feedLedger is a minimal in-memory usage ledger for service tests.
type feedLedger struct {
	mu        sync.Mutex
	events    []*models.UsageEvent
	insertErr error
}

func (l *feedLedger) Insert(_ context.Context, event *models.UsageEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.insertErr != nil {
		return l.insertErr
	}
	l.events = append(l.events, event)
	return nil
}

func (l *feedLedger) Aggregate(_ context.Context, userID, feature string, since time.Time, agg models.Aggregation) (int64, error) {
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

func (l *feedLedger) Summarize(context.Context, string, string, time.Time) ([]usage.FeatureUsage, error) {
	return nil, nil
}

func (l *feedLedger) Serialize(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixedLimits []models.UsageLimit

func (f fixedLimits) LimitsFor(context.Context, string, string) ([]models.UsageLimit, error) {
	return f, nil
}

type fixedPlan string

func (p fixedPlan) PlanFor(context.Context, string) (string, error) {
	return string(p), nil
}

// newAIServer fakes an OpenAI-compatible completions endpoint and counts
// how many times the model was actually called.
func newAIServer(t *testing.T, calls *int32, content string, totalTokens int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "cmpl-1",
			"model": "test-model",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{
				"prompt_tokens":     50,
				"completion_tokens": totalTokens - 50,
				"total_tokens":      totalTokens,
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(srvURL string, ledger *feedLedger, limits []models.UsageLimit) *Service {
	client := ai.NewClientWithOptions("test-key", "test-model", srvURL, 5*time.Second)
	tracker := usage.NewTracker(ledger, fixedLimits(limits), fixedPlan(models.PlanFree))
	return NewService(client, tracker, cache.New(cache.NewMemoryStore()))
}

func dailyCountLimit(value int64) []models.UsageLimit {
	return []models.UsageLimit{
		{PlanID: models.PlanFree, Feature: models.FeatureAIFeedback, Period: models.PeriodDaily, Value: value, Aggregation: models.AggregateCount},
	}
}

func TestServiceGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("generates feedback and records usage", func(t *testing.T) {
		var calls int32
		srv := newAIServer(t, &calls, "Nice structure, tighten the conclusion.", 300)
		ledger := &feedLedger{}
		svc := newTestService(srv.URL, ledger, dailyCountLimit(10))

		result, err := svc.Generate(ctx, "u1", "Essay on photosynthesis", "Plants convert light into energy...")
		require.NoError(t, err)

		assert.Equal(t, "Nice structure, tighten the conclusion.", result.Feedback)
		assert.Equal(t, "test-model", result.Model)
		assert.Equal(t, 300, result.TokensUsed)
		assert.False(t, result.FromCache)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

		require.Len(t, ledger.events, 1)
		event := ledger.events[0]
		assert.Equal(t, "u1", event.UserID)
		assert.Equal(t, models.FeatureAIFeedback, event.Feature)
		assert.Equal(t, "generate", event.Action)
		assert.Equal(t, int64(300), event.Quantity, "quantity must be the tokens spent, not the event count")
		assert.Equal(t, "test-model", event.Metadata["model"])
	})

	t.Run("identical submission served from cache without quota spend", func(t *testing.T) {
		var calls int32
		srv := newAIServer(t, &calls, "Good work.", 200)
		ledger := &feedLedger{}
		svc := newTestService(srv.URL, ledger, dailyCountLimit(10))

		first, err := svc.Generate(ctx, "u1", "a1", "My submission text")
		require.NoError(t, err)
		require.False(t, first.FromCache)

		second, err := svc.Generate(ctx, "u1", "a1", "My submission text")
		require.NoError(t, err)
		assert.True(t, second.FromCache)
		assert.Equal(t, first.Feedback, second.Feedback)
		assert.Equal(t, first.TokensUsed, second.TokensUsed)

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "cache hit must not call the model")
		assert.Len(t, ledger.events, 1, "cache hit must not consume quota")
	})

	t.Run("exhausted quota rejects before the model is called", func(t *testing.T) {
		var calls int32
		srv := newAIServer(t, &calls, "ok", 100)
		ledger := &feedLedger{}
		svc := newTestService(srv.URL, ledger, dailyCountLimit(1))

		_, err := svc.Generate(ctx, "u1", "a1", "first draft")
		require.NoError(t, err)

		_, err = svc.Generate(ctx, "u1", "a1", "second draft")
		var quotaErr *usage.QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, models.FeatureAIFeedback, quotaErr.Feature)
		assert.Equal(t, models.PeriodDaily, quotaErr.Period)

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "rejected request must not reach the model")
	})

	t.Run("token sum limit accrues and blocks", func(t *testing.T) {
		var calls int32
		srv := newAIServer(t, &calls, "ok", 600)
		ledger := &feedLedger{}
		svc := newTestService(srv.URL, ledger, []models.UsageLimit{
			{PlanID: models.PlanFree, Feature: models.FeatureAIFeedback, Period: models.PeriodMonthly, Value: 1000, Aggregation: models.AggregateSum},
		})

		_, err := svc.Generate(ctx, "u1", "a1", "first draft")
		require.NoError(t, err)

		// The second generation overshoots the 1000-token budget; the tokens
		// are already spent so the response is still returned and recorded.
		_, err = svc.Generate(ctx, "u1", "a1", "second draft")
		require.NoError(t, err)

		sum, err := ledger.Aggregate(ctx, "u1", models.FeatureAIFeedback, time.Time{}, models.AggregateSum)
		require.NoError(t, err)
		assert.Equal(t, int64(1200), sum)

		_, err = svc.Generate(ctx, "u1", "a1", "third draft")
		var quotaErr *usage.QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, models.PeriodMonthly, quotaErr.Period)
		assert.Equal(t, int64(1000), quotaErr.Limit)
		assert.Equal(t, int64(1200), quotaErr.Used)

		assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "the blocked generation must not reach the model")
	})

	t.Run("invalid submissions rejected without any spend", func(t *testing.T) {
		var calls int32
		srv := newAIServer(t, &calls, "ok", 100)
		ledger := &feedLedger{}
		svc := newTestService(srv.URL, ledger, dailyCountLimit(10))

		_, err := svc.Generate(ctx, "u1", "a1", "   ")
		assert.ErrorIs(t, err, ErrEmptySubmission)

		_, err = svc.Generate(ctx, "u1", "a1", strings.Repeat("a", maxSubmissionLen+1))
		assert.ErrorIs(t, err, ErrSubmissionTooLong)

		assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
		assert.Empty(t, ledger.events)
	})

	t.Run("model failure surfaces an error and spends no quota", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{"message": "model not available", "type": "invalid_request_error"},
			})
		}))
		t.Cleanup(srv.Close)

		ledger := &feedLedger{}
		svc := newTestService(srv.URL, ledger, dailyCountLimit(10))

		_, err := svc.Generate(ctx, "u1", "a1", "draft")
		require.Error(t, err)

		var apiErr *ai.APIError
		assert.ErrorAs(t, err, &apiErr)
		assert.Empty(t, ledger.events)
	})

	t.Run("recording failure does not fail the response", func(t *testing.T) {
		var calls int32
		srv := newAIServer(t, &calls, "Solid argument.", 250)
		ledger := &feedLedger{insertErr: errors.New("ledger down")}
		svc := newTestService(srv.URL, ledger, dailyCountLimit(10))

		// The model already answered; the response is returned even when the
		// usage event cannot be recorded.
		result, err := svc.Generate(ctx, "u1", "a1", "draft")
		require.NoError(t, err)
		assert.Equal(t, "Solid argument.", result.Feedback)
	})
}

func TestServiceInvalidateUser(t *testing.T) {
	ctx := context.Background()

	var calls int32
	srv := newAIServer(t, &calls, "ok", 100)
	ledger := &feedLedger{}
	svc := newTestService(srv.URL, ledger, dailyCountLimit(10))

	first, err := svc.Generate(ctx, "u1", "a1", "draft")
	require.NoError(t, err)
	require.False(t, first.FromCache)

	svc.InvalidateUser(ctx, "u1")

	second, err := svc.Generate(ctx, "u1", "a1", "draft")
	require.NoError(t, err)
	assert.False(t, second.FromCache, "invalidation must drop the cached entry")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
