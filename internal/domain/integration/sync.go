package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// SyncState
// ---------------------------------------------------------------------------

// SyncState is the incremental fetch position of one entity type of one
// integration. It is only advanced after a page fully completes.
type SyncState struct {
	IntegrationID uuid.UUID
	EntityType    EntityType
	// Cursor resumes an interrupted run; empty once a run completes
	Cursor string
	// LastSyncTimestamp is the modified-after bound of the next run
	LastSyncTimestamp *time.Time
	// HighWaterMark is the newest external update seen by the current run
	HighWaterMark *time.Time
	UpdatedAt     time.Time

	// oldestFailure is the earliest update time of an item the current run
	// failed to apply; holdBack is set when a failed item had no known time
	oldestFailure *time.Time
	holdBack      bool
}

// watermarkGranularity is the coarsest timestamp precision of the platform
// modified-after filters
const watermarkGranularity = time.Second

// ObserveUpdate raises the high-water mark to ts when ts is newer
func (s *SyncState) ObserveUpdate(ts time.Time) {
	if ts.IsZero() {
		return
	}
	if s.HighWaterMark == nil || ts.After(*s.HighWaterMark) {
		t := ts.UTC()
		s.HighWaterMark = &t
	}
}

// ObserveFailure records an item the current run could not apply. ts is the
// item's external update time, zero when it is unknown.
func (s *SyncState) ObserveFailure(ts time.Time) {
	if ts.IsZero() {
		s.holdBack = true
		return
	}
	if s.oldestFailure == nil || ts.Before(*s.oldestFailure) {
		t := ts.UTC()
		s.oldestFailure = &t
	}
}

// Complete closes a run: the cursor is cleared and LastSyncTimestamp moves
// forward to the high-water mark. When items failed, LastSyncTimestamp stays
// strictly before the oldest failed item so the next run fetches it again,
// and does not move at all if a failed item had no update time.
// LastSyncTimestamp never moves backwards.
func (s *SyncState) Complete() {
	s.Cursor = ""
	next := s.HighWaterMark
	if s.oldestFailure != nil {
		floor := s.oldestFailure.Add(-watermarkGranularity)
		if next == nil || floor.Before(*next) {
			next = &floor
		}
	}
	if s.holdBack {
		next = nil
	}
	if next != nil && (s.LastSyncTimestamp == nil || next.After(*s.LastSyncTimestamp)) {
		t := *next
		s.LastSyncTimestamp = &t
	}
	s.HighWaterMark = nil
	s.oldestFailure = nil
	s.holdBack = false
}

// ---------------------------------------------------------------------------
// Fetching
// ---------------------------------------------------------------------------

// FetchRequest describes an incremental fetch
type FetchRequest struct {
	EntityType EntityType
	// ModifiedAfter is nil for a full fetch
	ModifiedAfter *time.Time
	// Cursor resumes a previous run
	Cursor   string
	PageSize int
}

// Page is one page of undecoded platform items
type Page struct {
	Items      []RawItem
	NextCursor string
	HasMore    bool
	// Total is the provider-reported total, -1 when unknown
	Total int
}

// PageIterator is a lazy, finite, non-restartable sequence of pages
type PageIterator interface {
	// Next fetches the next page; false at the end or on error
	Next(ctx context.Context) bool
	// Page returns the page fetched by the last successful Next
	Page() *Page
	// Err returns the error that stopped iteration, nil at a clean end
	Err() error
}

// RecordSource opens page iterators over a platform's records
type RecordSource interface {
	Pages(req FetchRequest) (PageIterator, error)
}

// ---------------------------------------------------------------------------
// SyncPhase
// ---------------------------------------------------------------------------

// SyncPhase is the state of a sync run
type SyncPhase string

const (
	SyncPhaseIdle           SyncPhase = "idle"
	SyncPhaseAuthenticating SyncPhase = "authenticating"
	SyncPhaseFetching       SyncPhase = "fetching"
	SyncPhaseTransforming   SyncPhase = "transforming"
	SyncPhaseReconciling    SyncPhase = "reconciling"
	SyncPhasePersisting     SyncPhase = "persisting"
	SyncPhaseCompleted      SyncPhase = "completed"
	SyncPhaseFailed         SyncPhase = "failed"
)

var phaseTransitions = map[SyncPhase][]SyncPhase{
	SyncPhaseIdle:           {SyncPhaseAuthenticating},
	SyncPhaseAuthenticating: {SyncPhaseFetching, SyncPhaseFailed},
	SyncPhaseFetching:       {SyncPhaseTransforming, SyncPhaseCompleted, SyncPhaseFailed},
	SyncPhaseTransforming:   {SyncPhaseReconciling, SyncPhaseTransforming, SyncPhaseFetching, SyncPhaseCompleted, SyncPhaseFailed},
	SyncPhaseReconciling:    {SyncPhasePersisting, SyncPhaseTransforming, SyncPhaseFetching, SyncPhaseCompleted, SyncPhaseFailed},
	SyncPhasePersisting:     {SyncPhaseTransforming, SyncPhaseFetching, SyncPhaseCompleted, SyncPhaseFailed},
}

// CanTransitionTo reports whether the run may move from p to next
func (p SyncPhase) CanTransitionTo(next SyncPhase) bool {
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true for Completed and Failed
func (p SyncPhase) IsTerminal() bool {
	return p == SyncPhaseCompleted || p == SyncPhaseFailed
}

// ---------------------------------------------------------------------------
// SyncResult
// ---------------------------------------------------------------------------

// DefaultMaxResultErrors bounds SyncResult.Errors
const DefaultMaxResultErrors = 100

// ItemError is a per-item failure. Details carries the taxonomy fields of
// the error (code, status, field, retryable) when it has any.
type ItemError struct {
	ExternalID string            `json:"external_id,omitempty"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
}

// SyncResult summarizes one run for one entity type
type SyncResult struct {
	IntegrationID  uuid.UUID      `json:"integration_id"`
	EntityType     EntityType     `json:"entity_type"`
	Phase          SyncPhase      `json:"phase"`
	Success        bool           `json:"success"`
	DryRun         bool           `json:"dry_run"`
	ItemsProcessed int            `json:"items_processed"`
	ItemsCreated   int            `json:"items_created"`
	ItemsUpdated   int            `json:"items_updated"`
	ItemsFailed    int            `json:"items_failed"`
	ItemsSkipped   int            `json:"items_skipped"`
	Pages          int            `json:"pages"`
	Errors         []ItemError    `json:"errors,omitempty"`
	ErrorsTrimmed  bool           `json:"errors_truncated,omitempty"`
	Conflicts      []ItemConflict `json:"conflicts,omitempty"`
	NextCursor     string         `json:"next_cursor,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    time.Time      `json:"completed_at"`

	maxErrors int
}

// NewSyncResult creates an empty result bounded to maxErrors entries
func NewSyncResult(integrationID uuid.UUID, entityType EntityType, dryRun bool, maxErrors int) *SyncResult {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxResultErrors
	}
	return &SyncResult{
		IntegrationID: integrationID,
		EntityType:    entityType,
		Phase:         SyncPhaseIdle,
		DryRun:        dryRun,
		StartedAt:     time.Now().UTC(),
		maxErrors:     maxErrors,
	}
}

// AddError records a per-item failure
func (r *SyncResult) AddError(externalID string, err error) {
	r.ItemsFailed++
	if len(r.Errors) >= r.maxErrors {
		r.ErrorsTrimmed = true
		return
	}
	r.Errors = append(r.Errors, ItemError{ExternalID: externalID, Message: err.Error(), Details: ErrorDetails(err)})
}

// Attempted is the number of items handled so far, whatever the outcome
func (r *SyncResult) Attempted() int {
	return r.ItemsProcessed + r.ItemsFailed + r.ItemsSkipped
}

// Finish stamps the completion time and derives Success
func (r *SyncResult) Finish(phase SyncPhase) {
	r.Phase = phase
	r.CompletedAt = time.Now().UTC()
	r.Success = phase == SyncPhaseCompleted && r.ItemsFailed == 0
}

// Duration returns the run's wall time
func (r *SyncResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// ---------------------------------------------------------------------------
// Observer
// ---------------------------------------------------------------------------

// SyncEventKind is the kind of event a run emits
type SyncEventKind string

const (
	SyncEventAuthenticated SyncEventKind = "authenticated"
	SyncEventPhase         SyncEventKind = "phase"
	SyncEventProgress      SyncEventKind = "progress"
	SyncEventItemError     SyncEventKind = "item_error"
	SyncEventError         SyncEventKind = "error"
	SyncEventCompleted     SyncEventKind = "completed"
)

// SyncEvent is an observer notification
type SyncEvent struct {
	Kind          SyncEventKind
	IntegrationID uuid.UUID
	EntityType    EntityType
	Phase         SyncPhase
	// Current and Total are set on progress events; Total is -1 when unknown
	Current int
	Total   int
	Err     error
}

// SyncObserver receives run notifications. Implementations must not block.
type SyncObserver interface {
	OnSyncEvent(ctx context.Context, event SyncEvent)
}

// SyncObserverFunc adapts a function to SyncObserver
type SyncObserverFunc func(ctx context.Context, event SyncEvent)

// OnSyncEvent implements SyncObserver
func (f SyncObserverFunc) OnSyncEvent(ctx context.Context, event SyncEvent) { f(ctx, event) }
