package feedback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/studyloop/backend/internal/ai"
	"github.com/studyloop/backend/internal/cache"
	"github.com/studyloop/backend/internal/models"
	"github.com/studyloop/backend/internal/usage"
)

const (
	// TagFeedback groups cached feedback entries for bulk invalidation.
	TagFeedback = "feedback"

	feedbackCacheTTL = 24 * time.Hour
	maxSubmissionLen = 20000
)

var (
	ErrEmptySubmission   = errors.New("submission is empty")
	ErrSubmissionTooLong = errors.New("submission is too long")
)

const systemPrompt = `You are a patient writing tutor for students. Review the
submission below and give constructive feedback: what works, what needs
improvement, and one concrete suggestion for the next revision. Keep the tone
encouraging and the feedback under 300 words.`

// Service generates AI feedback on student submissions. Every generation is
// metered: limits are checked before calling the model and the actual token
// spend is recorded afterwards. Identical submissions are served from cache
// without consuming quota.
type Service struct {
	client  *ai.Client
	tracker *usage.Tracker
	cache   *cache.Cache
}

// Result is a generated piece of feedback plus its token cost.
type Result struct {
	Feedback    string `json:"feedback"`
	Model       string `json:"model"`
	TokensUsed  int    `json:"tokens_used"`
	FromCache   bool   `json:"from_cache"`
	GeneratedAt string `json:"generated_at"`
}

// NewService creates a new feedback service
func NewService(client *ai.Client, tracker *usage.Tracker, c *cache.Cache) *Service {
	return &Service{
		client:  client,
		tracker: tracker,
		cache:   c,
	}
}

// Generate produces feedback for a student submission. It checks the user's
// ai_feedback quota first, calls the model, then records the tokens actually
// consumed. A cached result for the same user and submission is returned
// without touching the quota.
func (s *Service) Generate(ctx context.Context, userID, assignment, submission string) (*Result, error) {
	submission = strings.TrimSpace(submission)
	if submission == "" {
		return nil, ErrEmptySubmission
	}
	if len(submission) > maxSubmissionLen {
		return nil, ErrSubmissionTooLong
	}

	cacheKey := cache.GenerateCacheKey("feedback", userID, assignment, submission)

	var cached Result
	if s.cache.Get(ctx, cacheKey, &cached) {
		cached.FromCache = true
		return &cached, nil
	}

	if err := s.tracker.CheckLimits(ctx, userID, models.FeatureAIFeedback); err != nil {
		return nil, err
	}

	resp, err := s.client.Chat(ctx, &ai.ChatRequest{
		Messages: []ai.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: s.buildPrompt(assignment, submission)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("feedback generation failed: %w", err)
	}

	result := &Result{
		Feedback:    resp.GetMessageContent(),
		Model:       resp.Model,
		TokensUsed:  resp.Usage.TotalTokens,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	// The model has already answered at this point, so the tokens are spent
	// no matter what the ledger says. Record the real quantity
	// unconditionally: the last generation of a period may overshoot a sum
	// limit, and the overshoot is what makes the next pre-flight check
	// reject.
	meta := map[string]string{
		"model":             resp.Model,
		"prompt_tokens":     strconv.Itoa(resp.Usage.PromptTokens),
		"completion_tokens": strconv.Itoa(resp.Usage.CompletionTokens),
	}
	if _, err := s.tracker.RecordUsage(ctx, userID, models.FeatureAIFeedback, "generate", int64(resp.Usage.TotalTokens), meta); err != nil {
		log.Printf("[feedback] WARN failed to record usage user=%s: %v", userID, err)
	}

	s.cache.Set(ctx, cacheKey, result, feedbackCacheTTL, TagFeedback, cache.UserTag(userID))

	return result, nil
}

// InvalidateUser drops all cached feedback for a user.
func (s *Service) InvalidateUser(ctx context.Context, userID string) {
	s.cache.InvalidateTag(ctx, cache.UserTag(userID))
}

func (s *Service) buildPrompt(assignment, submission string) string {
	var b strings.Builder
	if assignment != "" {
		b.WriteString("Assignment: ")
		b.WriteString(assignment)
		b.WriteString("\n\n")
	}
	b.WriteString("Submission:\n")
	b.WriteString(submission)
	return b.String()
}
