package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"commentaryapp/internal/models"
	"commentaryapp/internal/services/providers"

	"github.com/stretchr/testify/mock"
)

var _ CommentaryStoreInterface = (*memStore)(nil)

// memStore is an in-memory CommentaryStoreInterface with the same selection rules as the SQL store
type memStore struct {
	mu         sync.Mutex
	questions  map[int64]*models.QuestionRecord
	commentary map[int64]models.ProviderMap
	summaries  map[int64]*models.CommentarySummary

	// buckets, when set, replaces the bucket queries with canned results
	buckets map[models.CandidateBucket][]models.Candidate

	failCommentary map[int64]bool
	failPending    error
	failClaim      error

	commentaryWrites atomic.Int32
	summaryWrites    atomic.Int32
	corrections      atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{
		questions:      map[int64]*models.QuestionRecord{},
		commentary:     map[int64]models.ProviderMap{},
		summaries:      map[int64]*models.CommentarySummary{},
		failCommentary: map[int64]bool{},
	}
}

func (s *memStore) addQuestion(id int64, status models.CommentaryStatus, queuedAt time.Time) *models.QuestionRecord {
	q := testQuestion(id)
	q.CommentaryStatus = status
	q.QueuedAt.Time, q.QueuedAt.Valid = queuedAt, true
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[id] = q
	return q
}

func (s *memStore) status(id int64) models.CommentaryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questions[id].CommentaryStatus
}

func (s *memStore) storedCommentary(id int64) (models.ProviderMap, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.commentary[id]
	return m, ok
}

func (s *memStore) storedSummary(id int64) *models.CommentarySummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaries[id]
}

func (s *memStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.questions))
	for id := range s.questions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *memStore) selectBucket(bucket models.CandidateBucket, limit int, match func(q *models.QuestionRecord) bool) []models.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets != nil {
		return s.buckets[bucket]
	}
	var out []models.Candidate
	for _, id := range s.sortedIDs() {
		q := s.questions[id]
		if match(q) {
			out = append(out, models.Candidate{ID: id, Status: q.CommentaryStatus, Bucket: bucket})
		}
		if len(out) == limit {
			break
		}
	}
	return out
}

func claimAge(q *models.QuestionRecord) time.Time {
	if q.ClaimedAt.Valid {
		return q.ClaimedAt.Time
	}
	return q.QueuedAt.Time
}

func hasMarker(m models.ProviderMap, marker string) bool {
	set := &models.AnswerCommentarySet{Providers: m}
	return set.HasErrorMarker(marker)
}

func (s *memStore) PendingExpired(_ context.Context, cutoff time.Time, limit int) ([]models.Candidate, error) {
	if s.failPending != nil {
		return nil, s.failPending
	}
	return s.selectBucket(models.BucketPendingExpired, limit, func(q *models.QuestionRecord) bool {
		return q.CommentaryStatus == models.CommentaryStatusPending && q.QueuedAt.Time.Before(cutoff)
	}), nil
}

func (s *memStore) StuckProcessing(_ context.Context, cutoff time.Time, limit int) ([]models.Candidate, error) {
	return s.selectBucket(models.BucketStuckProcessing, limit, func(q *models.QuestionRecord) bool {
		return q.CommentaryStatus == models.CommentaryStatusProcessing && claimAge(q).Before(cutoff)
	}), nil
}

func (s *memStore) NeedsSummaryOnly(_ context.Context, limit int) ([]models.Candidate, error) {
	return s.selectBucket(models.BucketNeedsSummaryOnly, limit, func(q *models.QuestionRecord) bool {
		_, hasCommentary := s.commentary[q.ID]
		_, hasSummary := s.summaries[q.ID]
		return hasCommentary && !hasSummary
	}), nil
}

func (s *memStore) ErrorMarked(_ context.Context, marker string, limit int) ([]models.Candidate, error) {
	return s.selectBucket(models.BucketErrorMarked, limit, func(q *models.QuestionRecord) bool {
		m, ok := s.commentary[q.ID]
		return ok && q.CommentaryStatus == models.CommentaryStatusCompleted && hasMarker(m, marker)
	}), nil
}

func (s *memStore) LookupCommentary(_ context.Context, ids []int64) (map[int64]CommentaryLookup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int64]CommentaryLookup{}
	for _, id := range ids {
		m, ok := s.commentary[id]
		if !ok {
			continue
		}
		_, hasSummary := s.summaries[id]
		out[id] = CommentaryLookup{Set: &models.AnswerCommentarySet{QuestionID: id, Providers: m}, HasSummary: hasSummary}
	}
	return out, nil
}

func (s *memStore) Claim(_ context.Context, claims []ClaimRequest, stuckCutoff time.Time) ([]*models.QuestionRecord, error) {
	if s.failClaim != nil {
		return nil, s.failClaim
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.QuestionRecord
	for _, c := range claims {
		q, ok := s.questions[c.ID]
		if !ok || q.CommentaryStatus != c.Expected {
			continue
		}
		if q.CommentaryStatus == models.CommentaryStatusProcessing && !claimAge(q).Before(stuckCutoff) {
			continue
		}
		q.CommentaryStatus = models.CommentaryStatusProcessing
		q.ClaimedAt.Time, q.ClaimedAt.Valid = time.Now(), true
		cp := *q
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) UpsertCommentary(_ context.Context, questionID int64, m models.ProviderMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommentary[questionID] {
		return errors.New("disk full")
	}
	s.commentaryWrites.Add(1)
	s.commentary[questionID] = m
	return nil
}

func (s *memStore) UpsertSummary(_ context.Context, summary *models.CommentarySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaryWrites.Add(1)
	s.summaries[summary.QuestionID] = summary
	return nil
}

func (s *memStore) finalize(id int64, status models.CommentaryStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.questions[id]
	if q.CommentaryStatus != models.CommentaryStatusProcessing {
		return
	}
	q.CommentaryStatus = status
	if status == models.CommentaryStatusCompleted {
		q.ProcessedAt.Time, q.ProcessedAt.Valid = time.Now(), true
	}
}

func (s *memStore) MarkCompleted(_ context.Context, questionID int64) error {
	s.finalize(questionID, models.CommentaryStatusCompleted)
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, questionID int64) error {
	s.finalize(questionID, models.CommentaryStatusFailed)
	return nil
}

func (s *memStore) CorrectStaleStatus(_ context.Context, questionID int64, stuckCutoff time.Time) error {
	s.corrections.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[questionID]
	if !ok {
		return nil
	}
	switch q.CommentaryStatus {
	case models.CommentaryStatusPending, models.CommentaryStatusFailed, models.CommentaryStatusNone:
		q.CommentaryStatus = models.CommentaryStatusCompleted
	case models.CommentaryStatusProcessing:
		if claimAge(q).Before(stuckCutoff) {
			q.CommentaryStatus = models.CommentaryStatusCompleted
		}
	}
	return nil
}

func (s *memStore) QueueStats(_ context.Context, marker string, pendingCutoff time.Time) (*models.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &models.QueueStats{Statuses: models.StatusCounts{}}
	for _, q := range s.questions {
		stats.Statuses[q.CommentaryStatus]++
		if q.CommentaryStatus == models.CommentaryStatusPending && q.QueuedAt.Time.Before(pendingCutoff) {
			stats.PendingReadyForClaim++
		}
	}
	stats.WithCommentary = len(s.commentary)
	stats.WithSummary = len(s.summaries)
	for _, m := range s.commentary {
		if hasMarker(m, marker) {
			stats.WithErrorMarker++
		}
	}
	return stats, nil
}

func (s *memStore) Requeue(_ context.Context, ids []int64, _ []models.CommentaryStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if q, ok := s.questions[id]; ok {
			q.CommentaryStatus = models.CommentaryStatusPending
			n++
		}
	}
	return n, nil
}

// mockSettings is a testify mock of SettingsServiceInterface
type mockSettings struct {
	mock.Mock
}

func (m *mockSettings) Load(ctx context.Context) (*models.ProcessingSettings, error) {
	args := m.Called(ctx)
	settings, _ := args.Get(0).(*models.ProcessingSettings)
	return settings, args.Error(1)
}

func (m *mockSettings) Update(ctx context.Context, settings *models.ProcessingSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

func settingsReturning(settings *models.ProcessingSettings, err error) *mockSettings {
	m := &mockSettings{}
	m.On("Load", mock.Anything).Return(settings, err)
	return m
}

// fakeSlot is a SlotGenerator answering with a fixed commentary
type fakeSlot struct {
	provider string
	fn       func(ctx context.Context, prompt providers.Prompt) (models.Commentary, error)
	calls    atomic.Int32
	prompts  []string
	mu       sync.Mutex
}

func (f *fakeSlot) Generate(ctx context.Context, prompt providers.Prompt) (providers.ChainResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt.User)
	f.mu.Unlock()
	if f.fn == nil {
		return providers.ChainResult{ActualProvider: f.provider, Commentary: sampleCommentary(f.provider)}, nil
	}
	c, err := f.fn(ctx, prompt)
	if err != nil {
		return providers.ChainResult{}, err
	}
	return providers.ChainResult{ActualProvider: f.provider, Commentary: c}, nil
}

func sampleCommentary(prefix string) models.Commentary {
	return models.Commentary{
		GeneralComment: prefix + " general",
		CommentA:       prefix + " a",
		CommentB:       prefix + " b",
		CommentC:       prefix + " c",
		CommentD:       prefix + " d",
		CommentE:       prefix + " e",
	}
}

func testQuestion(id int64) *models.QuestionRecord {
	q := &models.QuestionRecord{
		ID:            id,
		QuestionText:  "Welches Organ produziert Insulin?",
		CorrectAnswer: "B",
	}
	q.OptionA.String, q.OptionA.Valid = "Leber", true
	q.OptionB.String, q.OptionB.Valid = "Pankreas", true
	q.OptionC.String, q.OptionC.Valid = "Milz", true
	q.OptionD.String, q.OptionD.Valid = "Niere", true
	return q
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
