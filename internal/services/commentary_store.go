package services

import (
	"context"
	"database/sql"
	"time"

	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	contextutils "commentaryapp/internal/utils"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

// ClaimRequest asks to move one question to processing if it is still in Expected
type ClaimRequest struct {
	ID       int64
	Expected models.CommentaryStatus
}

// CommentaryLookup is what the dedup step needs to know about a question's stored output
type CommentaryLookup struct {
	Set        *models.AnswerCommentarySet
	HasSummary bool
}

// CommentaryStoreInterface is the storage surface of the pipeline
type CommentaryStoreInterface interface {
	PendingExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.Candidate, error)
	StuckProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.Candidate, error)
	NeedsSummaryOnly(ctx context.Context, limit int) ([]models.Candidate, error)
	ErrorMarked(ctx context.Context, marker string, limit int) ([]models.Candidate, error)
	LookupCommentary(ctx context.Context, ids []int64) (map[int64]CommentaryLookup, error)
	Claim(ctx context.Context, claims []ClaimRequest, stuckCutoff time.Time) ([]*models.QuestionRecord, error)
	UpsertCommentary(ctx context.Context, questionID int64, providers models.ProviderMap) error
	UpsertSummary(ctx context.Context, summary *models.CommentarySummary) error
	MarkCompleted(ctx context.Context, questionID int64) error
	MarkFailed(ctx context.Context, questionID int64) error
	CorrectStaleStatus(ctx context.Context, questionID int64, stuckCutoff time.Time) error
	QueueStats(ctx context.Context, marker string, pendingCutoff time.Time) (*models.QueueStats, error)
	Requeue(ctx context.Context, ids []int64, statuses []models.CommentaryStatus) (int64, error)
}

// CommentaryStore persists questions, commentary sets and summaries in Postgres
type CommentaryStore struct {
	db     *sql.DB
	logger *observability.Logger
	psql   sq.StatementBuilderType
}

// NewCommentaryStore creates a store on an open connection pool
func NewCommentaryStore(db *sql.DB, logger *observability.Logger) *CommentaryStore {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &CommentaryStore{
		db:     db,
		logger: logger,
		psql:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

const questionColumns = `q.id, q.question_text, q.option_a, q.option_b, q.option_c, q.option_d, q.option_e,
	q.correct_answer, q.subject, q.note, q.commentary_status, q.queued_at, q.claimed_at, q.processed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuestion(row rowScanner) (*models.QuestionRecord, error) {
	q := &models.QuestionRecord{}
	err := row.Scan(
		&q.ID, &q.QuestionText,
		&q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD, &q.OptionE,
		&q.CorrectAnswer, &q.Subject, &q.Note,
		&q.CommentaryStatus, &q.QueuedAt, &q.ClaimedAt, &q.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (s *CommentaryStore) queryCandidates(ctx context.Context, b sq.SelectBuilder, bucket models.CandidateBucket) (result []models.Candidate, err error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to build %s query: %w", bucket, err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to query %s candidates: %w", bucket, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close candidate rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	for rows.Next() {
		c := models.Candidate{Bucket: bucket}
		if err := rows.Scan(&c.ID, &c.Status); err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to scan %s candidate: %w", bucket, err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to iterate %s candidates: %w", bucket, err)
	}
	return result, nil
}

// PendingExpired returns pending questions queued before cutoff, oldest first
func (s *CommentaryStore) PendingExpired(ctx context.Context, cutoff time.Time, limit int) (result []models.Candidate, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "pending_expired", observability.AttributeLimit(limit))
	defer observability.FinishSpan(span, &err)

	b := s.psql.Select("q.id", "q.commentary_status").
		From("questions q").
		Where(sq.Eq{"q.commentary_status": string(models.CommentaryStatusPending)}).
		Where(sq.Lt{"q.queued_at": cutoff}).
		OrderBy("q.queued_at ASC").
		Limit(uint64(limit))
	return s.queryCandidates(ctx, b, models.BucketPendingExpired)
}

// StuckProcessing returns questions left in processing since before cutoff
func (s *CommentaryStore) StuckProcessing(ctx context.Context, cutoff time.Time, limit int) (result []models.Candidate, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "stuck_processing", observability.AttributeLimit(limit))
	defer observability.FinishSpan(span, &err)

	b := s.psql.Select("q.id", "q.commentary_status").
		From("questions q").
		Where(sq.Eq{"q.commentary_status": string(models.CommentaryStatusProcessing)}).
		Where(sq.Expr("COALESCE(q.claimed_at, q.queued_at) < ?", cutoff)).
		OrderBy("q.queued_at ASC").
		Limit(uint64(limit))
	return s.queryCandidates(ctx, b, models.BucketStuckProcessing)
}

// NeedsSummaryOnly returns questions with commentary but no summary, in any status
func (s *CommentaryStore) NeedsSummaryOnly(ctx context.Context, limit int) (result []models.Candidate, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "needs_summary_only", observability.AttributeLimit(limit))
	defer observability.FinishSpan(span, &err)

	b := s.psql.Select("q.id", "q.commentary_status").
		From("questions q").
		Join("answer_commentaries c ON c.question_id = q.id").
		LeftJoin("commentary_summaries s ON s.question_id = q.id").
		Where(sq.Eq{"s.question_id": nil}).
		OrderBy("c.updated_at ASC").
		Limit(uint64(limit))
	return s.queryCandidates(ctx, b, models.BucketNeedsSummaryOnly)
}

// ErrorMarked returns completed questions whose stored general comments carry marker
func (s *CommentaryStore) ErrorMarked(ctx context.Context, marker string, limit int) (result []models.Candidate, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "error_marked", observability.AttributeLimit(limit))
	defer observability.FinishSpan(span, &err)

	b := s.psql.Select("q.id", "q.commentary_status").
		From("questions q").
		Join("answer_commentaries c ON c.question_id = q.id").
		Where(sq.Eq{"q.commentary_status": string(models.CommentaryStatusCompleted)}).
		Where(sq.Expr("EXISTS (SELECT 1 FROM jsonb_each(c.providers) p WHERE strpos(p.value->>'general_comment', ?) > 0)", marker)).
		OrderBy("c.updated_at ASC").
		Limit(uint64(limit))
	return s.queryCandidates(ctx, b, models.BucketErrorMarked)
}

// LookupCommentary loads stored commentary and summary existence for ids in one query.
// Ids without a commentary row are absent from the result.
func (s *CommentaryStore) LookupCommentary(ctx context.Context, ids []int64) (result map[int64]CommentaryLookup, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "lookup_commentary", observability.AttributeBatchSize(len(ids)))
	defer observability.FinishSpan(span, &err)

	result = make(map[int64]CommentaryLookup, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.question_id, c.providers, c.created_at, c.updated_at, (s.question_id IS NOT NULL) AS has_summary
		FROM answer_commentaries c
		LEFT JOIN commentary_summaries s ON s.question_id = c.question_id
		WHERE c.question_id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to look up commentary: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close commentary rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	for rows.Next() {
		set := &models.AnswerCommentarySet{}
		var hasSummary bool
		if err := rows.Scan(&set.QuestionID, &set.Providers, &set.CreatedAt, &set.UpdatedAt, &hasSummary); err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to scan commentary: %w", err)
		}
		result[set.QuestionID] = CommentaryLookup{Set: set, HasSummary: hasSummary}
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to iterate commentary: %w", err)
	}
	return result, nil
}

// Claim moves every requested question still in its expected status to processing in one statement.
// A processing row is only re-claimed when it is older than stuckCutoff.
// Questions missing from the result lost the race to another invocation.
func (s *CommentaryStore) Claim(ctx context.Context, claims []ClaimRequest, stuckCutoff time.Time) (result []*models.QuestionRecord, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "claim_questions", observability.AttributeBatchSize(len(claims)))
	defer observability.FinishSpan(span, &err)

	if len(claims) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(claims))
	statuses := make([]string, len(claims))
	for i, c := range claims {
		ids[i] = c.ID
		statuses[i] = string(c.Expected)
	}

	rows, err := s.db.QueryContext(ctx, `
		UPDATE questions q
		SET commentary_status = 'processing', claimed_at = NOW()
		FROM unnest($1::bigint[], $2::text[]) AS c(id, expected)
		WHERE q.id = c.id
		  AND q.commentary_status = c.expected
		  AND (q.commentary_status <> 'processing' OR COALESCE(q.claimed_at, q.queued_at) < $3)
		RETURNING `+questionColumns,
		pq.Array(ids), pq.Array(statuses), stuckCutoff)
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to claim questions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close claim rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to scan claimed question: %w", err)
		}
		result = append(result, q)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to iterate claimed questions: %w", err)
	}

	span.SetAttributes(attribute.Int("claim.won", len(result)), attribute.Int("claim.lost", len(claims)-len(result)))
	return result, nil
}

// UpsertCommentary writes the whole provider map of a question in one statement
func (s *CommentaryStore) UpsertCommentary(ctx context.Context, questionID int64, providers models.ProviderMap) (err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "upsert_commentary", observability.AttributeQuestionID(questionID))
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO answer_commentaries (question_id, providers, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (question_id) DO UPDATE SET
			providers = EXCLUDED.providers,
			updated_at = EXCLUDED.updated_at
	`, questionID, providers)
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrPersistence, "failed to upsert commentary for question %d: %w", questionID, err)
	}
	return nil
}

// UpsertSummary writes the synthesized summary of a question
func (s *CommentaryStore) UpsertSummary(ctx context.Context, summary *models.CommentarySummary) (err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "upsert_summary", observability.AttributeQuestionID(summary.QuestionID))
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commentary_summaries (question_id, general_comment, comment_a, comment_b, comment_c, comment_d, comment_e, source_slots, model, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (question_id) DO UPDATE SET
			general_comment = EXCLUDED.general_comment,
			comment_a = EXCLUDED.comment_a,
			comment_b = EXCLUDED.comment_b,
			comment_c = EXCLUDED.comment_c,
			comment_d = EXCLUDED.comment_d,
			comment_e = EXCLUDED.comment_e,
			source_slots = EXCLUDED.source_slots,
			model = EXCLUDED.model,
			updated_at = EXCLUDED.updated_at
	`, summary.QuestionID, summary.GeneralComment,
		summary.CommentA, summary.CommentB, summary.CommentC, summary.CommentD, summary.CommentE,
		pq.Array(summary.SourceSlots), summary.Model)
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrPersistence, "failed to upsert summary for question %d: %w", summary.QuestionID, err)
	}
	return nil
}

// finalize moves a claimed question out of processing. A row that left processing in the
// meantime was requeued or reclaimed, so it keeps the status the other writer gave it.
func (s *CommentaryStore) finalize(ctx context.Context, questionID int64, status models.CommentaryStatus) error {
	b := s.psql.Update("questions").Set("commentary_status", string(status))
	if status == models.CommentaryStatusCompleted {
		b = b.Set("processed_at", sq.Expr("NOW()"))
	}
	query, args, err := b.
		Where(sq.Eq{"id": questionID}).
		Where(sq.Eq{"commentary_status": string(models.CommentaryStatusProcessing)}).
		ToSql()
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to build status update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrPersistence, "failed to mark question %d %s: %w", questionID, status, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Warn(ctx, "Question no longer processing, status left unchanged", map[string]interface{}{
			"question_id": questionID,
			"status":      string(status),
		})
	}
	return nil
}

// MarkCompleted finalizes a processing question as completed and stamps processed_at
func (s *CommentaryStore) MarkCompleted(ctx context.Context, questionID int64) (err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "mark_completed", observability.AttributeQuestionID(questionID))
	defer observability.FinishSpan(span, &err)
	return s.finalize(ctx, questionID, models.CommentaryStatusCompleted)
}

// MarkFailed finalizes a processing question as failed. processed_at keeps its previous value.
func (s *CommentaryStore) MarkFailed(ctx context.Context, questionID int64) (err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "mark_failed", observability.AttributeQuestionID(questionID))
	defer observability.FinishSpan(span, &err)
	return s.finalize(ctx, questionID, models.CommentaryStatusFailed)
}

// CorrectStaleStatus marks an already fully enriched question completed.
// Rows claimed by another invocation are left alone unless the claim is older than stuckCutoff.
func (s *CommentaryStore) CorrectStaleStatus(ctx context.Context, questionID int64, stuckCutoff time.Time) (err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "correct_stale_status", observability.AttributeQuestionID(questionID))
	defer observability.FinishSpan(span, &err)

	_, err = s.db.ExecContext(ctx, `
		UPDATE questions
		SET commentary_status = 'completed', processed_at = COALESCE(processed_at, NOW())
		WHERE id = $1
		  AND (commentary_status IN ('pending', 'failed', 'none')
		       OR (commentary_status = 'processing' AND COALESCE(claimed_at, queued_at) < $2))
	`, questionID, stuckCutoff)
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrPersistence, "failed to correct status of question %d: %w", questionID, err)
	}
	return nil
}

// QueueStats counts questions per status and summarises stored output
func (s *CommentaryStore) QueueStats(ctx context.Context, marker string, pendingCutoff time.Time) (result *models.QueueStats, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "queue_stats")
	defer observability.FinishSpan(span, &err)

	query, args, err := s.psql.Select("commentary_status", "COUNT(*)").
		From("questions").
		GroupBy("commentary_status").
		ToSql()
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to build status query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to count statuses: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Failed to close status rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	result = &models.QueueStats{Statuses: models.StatusCounts{}}
	for _, st := range models.AllCommentaryStatuses {
		result.Statuses[st] = 0
	}
	for rows.Next() {
		var status models.CommentaryStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to scan status count: %w", err)
		}
		result.Statuses[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to iterate status counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM answer_commentaries),
			(SELECT COUNT(*) FROM commentary_summaries),
			(SELECT COUNT(*) FROM answer_commentaries c
				WHERE EXISTS (SELECT 1 FROM jsonb_each(c.providers) p WHERE strpos(p.value->>'general_comment', $1) > 0)),
			(SELECT COUNT(*) FROM questions WHERE commentary_status = 'pending' AND queued_at < $2)
	`, marker, pendingCutoff).Scan(&result.WithCommentary, &result.WithSummary, &result.WithErrorMarker, &result.PendingReadyForClaim)
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to summarise stored commentary: %w", err)
	}
	return result, nil
}

// Requeue sets questions back to pending with a fresh queued_at.
// Explicit ids win over statuses; with neither, nothing is changed.
func (s *CommentaryStore) Requeue(ctx context.Context, ids []int64, statuses []models.CommentaryStatus) (affected int64, err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "requeue", observability.AttributeBatchSize(len(ids)))
	defer observability.FinishSpan(span, &err)

	b := s.psql.Update("questions").
		Set("commentary_status", string(models.CommentaryStatusPending)).
		Set("queued_at", sq.Expr("NOW()")).
		Set("claimed_at", nil)
	switch {
	case len(ids) > 0:
		b = b.Where(sq.Eq{"id": ids})
	case len(statuses) > 0:
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		b = b.Where(sq.Eq{"commentary_status": names})
	default:
		return 0, nil
	}

	query, args, err := b.ToSql()
	if err != nil {
		return 0, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to build requeue query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, contextutils.WrapErrorf(contextutils.ErrPersistence, "failed to requeue questions: %w", err)
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return 0, contextutils.WrapErrorf(contextutils.ErrDatabaseQuery, "failed to read requeue result: %w", err)
	}
	return affected, nil
}
