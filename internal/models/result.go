package models

// Invocation result messages
const (
	MessageProcessingDisabled  = "Commentary processing disabled"
	MessageNothingToProcess    = "No questions to process"
	MessageProcessingCompleted = "Processing completed"
)

// ProcessResult is the payload of one pipeline invocation
type ProcessResult struct {
	RunID     string `json:"run_id,omitempty"`
	Message   string `json:"message"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Claimed   int    `json:"claimed"`
}

// CandidateBucket names the collector category a candidate came from
type CandidateBucket string

const (
	// BucketPendingExpired holds pending questions older than the debounce delay
	BucketPendingExpired CandidateBucket = "pending_expired"
	// BucketStuckProcessing holds questions left in processing past the stuck timeout
	BucketStuckProcessing CandidateBucket = "stuck_processing"
	// BucketNeedsSummaryOnly holds questions with commentary but without a summary
	BucketNeedsSummaryOnly CandidateBucket = "needs_summary_only"
	// BucketErrorMarked holds completed questions whose stored commentary carries the error marker
	BucketErrorMarked CandidateBucket = "error_marked"
)

// Candidate is a question the collector judged as possibly needing work
type Candidate struct {
	ID     int64
	Status CommentaryStatus
	Bucket CandidateBucket
}

// WorkMode tells the orchestrator what to do with a claimed question
type WorkMode string

const (
	// WorkGenerate runs every enabled slot
	WorkGenerate WorkMode = "generate"
	// WorkRegenerate runs every enabled slot because stored commentary carries the error marker
	WorkRegenerate WorkMode = "regenerate"
	// WorkSummaryOnly reuses stored slot commentary and only synthesizes the summary
	WorkSummaryOnly WorkMode = "summary_only"
)

// WorkItem is a claimed question plus what to do with it
type WorkItem struct {
	Question *QuestionRecord
	Mode     WorkMode
	Existing *AnswerCommentarySet
}

// StatusCounts maps each commentary status to the number of questions in it
type StatusCounts map[CommentaryStatus]int

// QueueStats summarises pipeline state for the stats endpoint
type QueueStats struct {
	Statuses             StatusCounts `json:"statuses"`
	WithCommentary       int          `json:"with_commentary"`
	WithSummary          int          `json:"with_summary"`
	WithErrorMarker      int          `json:"with_error_marker"`
	PendingReadyForClaim int          `json:"pending_ready_for_claim"`
}
