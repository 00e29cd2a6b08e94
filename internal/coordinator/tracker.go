package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StatementStatus is the lifecycle state of a tracked statement.
type StatementStatus string

const (
	StatusRunning   StatementStatus = "running"
	StatusCompleted StatementStatus = "completed"
	StatusCancelled StatementStatus = "cancelled"
	StatusFailed    StatementStatus = "failed"
	StatusTimedOut  StatementStatus = "timed_out"
)

// TrackedStatement holds the metadata of one statement execution.
type TrackedStatement struct {
	ID         string          `json:"id"`
	Db         string          `json:"db"`
	Namespace  string          `json:"namespace"`
	SQL        string          `json:"sql"`
	Status     StatementStatus `json:"status"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    *time.Time      `json:"end_time,omitempty"`
	DurationMs float64         `json:"duration_ms,omitempty"`
	RowCount   int             `json:"row_count,omitempty"`
	ShardCount int             `json:"shard_count,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type activeEntry struct {
	stmt   *TrackedStatement
	cancel context.CancelFunc
}

// Tracker records active and recently completed statements, with a cancel
// context per active statement.
type Tracker struct {
	mu       sync.RWMutex
	active   map[string]*activeEntry
	history  []*TrackedStatement // ring buffer
	histSize int
	histHead int
	histLen  int
	logger   zerolog.Logger
}

// NewTracker creates a tracker with the given history capacity.
func NewTracker(historySize int, logger zerolog.Logger) *Tracker {
	if historySize <= 0 {
		historySize = 100
	}
	return &Tracker{
		active:   make(map[string]*activeEntry),
		history:  make([]*TrackedStatement, historySize),
		histSize: historySize,
		logger:   logger.With().Str("component", "statement-tracker").Logger(),
	}
}

// Register tracks a new statement and returns its id plus a context that
// Cancel can abort.
func (t *Tracker) Register(parent context.Context, db, ns, sqlText string) (string, context.Context) {
	id := uuid.New().String()[:12]
	ctx, cancel := context.WithCancel(parent)

	stmt := &TrackedStatement{
		ID:        id,
		Db:        db,
		Namespace: ns,
		SQL:       sqlText,
		Status:    StatusRunning,
		StartTime: time.Now(),
	}

	t.mu.Lock()
	t.active[id] = &activeEntry{stmt: stmt, cancel: cancel}
	t.mu.Unlock()

	return id, ctx
}

// SetShardCount records the fan-out width once planned.
func (t *Tracker) SetShardCount(id string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.active[id]; ok {
		e.stmt.ShardCount = n
	}
}

// Complete moves a statement to history as completed.
func (t *Tracker) Complete(id string, rows int) {
	t.finish(id, StatusCompleted, "", rows)
}

// Fail moves a statement to history as failed.
func (t *Tracker) Fail(id string, errMsg string) {
	t.finish(id, StatusFailed, errMsg, 0)
}

// TimedOut moves a statement to history as timed out.
func (t *Tracker) TimedOut(id string) {
	t.finish(id, StatusTimedOut, "statement deadline elapsed", 0)
}

// Cancel aborts a running statement. Returns true if it was found.
func (t *Tracker) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.active[id]
	if !ok {
		return false
	}
	e.cancel()
	now := time.Now()
	e.stmt.Status = StatusCancelled
	e.stmt.EndTime = &now
	e.stmt.DurationMs = float64(now.Sub(e.stmt.StartTime).Milliseconds())

	t.logger.Info().Str("statement_id", id).Msg("Statement cancelled")
	t.addToHistory(e.stmt)
	delete(t.active, id)
	return true
}

func (t *Tracker) finish(id string, status StatementStatus, errMsg string, rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.active[id]
	if !ok {
		return
	}
	now := time.Now()
	e.stmt.Status = status
	e.stmt.EndTime = &now
	e.stmt.DurationMs = float64(now.Sub(e.stmt.StartTime).Milliseconds())
	e.stmt.RowCount = rows
	e.stmt.Error = errMsg

	t.addToHistory(e.stmt)
	delete(t.active, id)
}

// Active returns a snapshot of the running statements.
func (t *Tracker) Active() []*TrackedStatement {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*TrackedStatement, 0, len(t.active))
	now := time.Now()
	for _, e := range t.active {
		s := *e.stmt
		s.DurationMs = float64(now.Sub(s.StartTime).Milliseconds())
		out = append(out, &s)
	}
	return out
}

// History returns the most recent finished statements, newest first.
func (t *Tracker) History(limit int) []*TrackedStatement {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := t.histLen
	if limit > 0 && limit < count {
		count = limit
	}
	out := make([]*TrackedStatement, 0, count)
	for i := 0; i < count; i++ {
		idx := (t.histHead - 1 - i + t.histSize) % t.histSize
		if t.history[idx] != nil {
			s := *t.history[idx]
			out = append(out, &s)
		}
	}
	return out
}

// addToHistory appends to the ring buffer. Must be called with mu held.
func (t *Tracker) addToHistory(s *TrackedStatement) {
	t.history[t.histHead] = s
	t.histHead = (t.histHead + 1) % t.histSize
	if t.histLen < t.histSize {
		t.histLen++
	}
}
