// Package repair rebuilds the aggregate partitions from the primary store.
// A run walks CLEARING -> REBUILDING -> VERIFYING -> DONE | FAILED, commits
// its cursor after every page, and can resume from the last committed page
// after a crash. Live writes racing with a rebuild are absorbed by the
// index's idempotent inserts; no locking is involved.
package repair

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/aggindex"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/taxonomy"
	contextutils "github.com/OrtoQBank/ortoqbank-sub001/internal/utils"
)

// State is a repair run's lifecycle state.
type State string

const (
	// StateClearing wipes every partition slated for rebuild.
	StateClearing State = "clearing"
	// StateRebuilding scans the primary store page by page.
	StateRebuilding State = "rebuilding"
	// StateVerifying compares index counts against rebuild counters.
	StateVerifying State = "verifying"
	// StateDone is the terminal success state.
	StateDone State = "done"
	// StateFailed is the terminal failure state.
	StateFailed State = "failed"
)

// Rebuild phases within StateRebuilding.
const (
	PhaseQuestions = "questions"
	PhaseFacts     = "facts"
)

// Status is the persisted progress of one repair run. Counts accumulate the
// expected entries per "partition/namespace" during the rebuild scan.
type Status struct {
	ID         string         `json:"id"`
	State      State          `json:"state"`
	Phase      string         `json:"phase"`
	LastCursor string         `json:"last_cursor"`
	Counts     map[string]int `json:"counts_so_far"`
	Mismatches int            `json:"mismatches"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Terminal reports whether the run has finished.
func (s *Status) Terminal() bool {
	return s.State == StateDone || s.State == StateFailed
}

// PrimaryStore is the slice of the services layer the rebuild scan needs.
type PrimaryStore interface {
	ScanQuestions(ctx context.Context, cursor string, pageSize int) ([]*models.Question, string, bool, error)
	ScanUserFacts(ctx context.Context, cursor string, pageSize int) ([]*models.UserFact, string, bool, error)
	GetQuestionsByIDs(ctx context.Context, ids []string) ([]*models.Question, error)
}

// CheckpointStore persists run progress so an interrupted run resumes from
// its last committed page.
type CheckpointStore interface {
	CreateRun(ctx context.Context, st *Status) error
	SaveRun(ctx context.Context, st *Status) error
	LoadRun(ctx context.Context, id string) (*Status, error)
	ActiveRun(ctx context.Context) (*Status, error)
}

// Workflow coordinates repair runs. One run may be in flight at a time.
type Workflow struct {
	store       *aggindex.Store
	primary     PrimaryStore
	checkpoints CheckpointStore
	logger      *observability.Logger
	pageSize    int

	mu      sync.Mutex
	running bool
}

// NewWorkflow creates a repair workflow. pageSize is the number of primary
// rows per durable unit of work.
func NewWorkflow(store *aggindex.Store, primary PrimaryStore, checkpoints CheckpointStore, logger *observability.Logger, pageSize int) *Workflow {
	return &Workflow{
		store:       store,
		primary:     primary,
		checkpoints: checkpoints,
		logger:      logger,
		pageSize:    pageSize,
	}
}

// Start begins a new repair run in the background and returns its id.
// Returns ErrRepairAlreadyRunning when a run is already in flight.
func (w *Workflow) Start(ctx context.Context) (result0 string, err error) {
	ctx, span := observability.TraceRepairFunction(ctx, "Start")
	defer observability.FinishSpan(span, &err)

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return "", contextutils.ErrRepairAlreadyRunning
	}

	active, err := w.checkpoints.ActiveRun(ctx)
	if err != nil {
		w.mu.Unlock()
		return "", err
	}
	if active != nil {
		w.mu.Unlock()
		return "", contextutils.WrapErrorf(contextutils.ErrRepairAlreadyRunning,
			"run %s is still %s; resume it instead", active.ID, active.State)
	}

	now := time.Now()
	st := &Status{
		ID:        uuid.New().String(),
		State:     StateClearing,
		Counts:    make(map[string]int),
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := w.checkpoints.CreateRun(ctx, st); err != nil {
		w.mu.Unlock()
		return "", err
	}
	w.running = true
	w.mu.Unlock()

	go w.drive(st)
	return st.ID, nil
}

// Resume continues an interrupted run from its last committed checkpoint.
func (w *Workflow) Resume(ctx context.Context, runID string) (err error) {
	ctx, span := observability.TraceRepairFunction(ctx, "Resume",
		observability.AttributeRepairRun(runID))
	defer observability.FinishSpan(span, &err)

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return contextutils.ErrRepairAlreadyRunning
	}
	st, err := w.checkpoints.LoadRun(ctx, runID)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if st.Terminal() {
		w.mu.Unlock()
		return contextutils.WrapErrorf(contextutils.ErrConflict, "run %s already finished as %s", runID, st.State)
	}
	w.running = true
	w.mu.Unlock()

	go w.drive(st)
	return nil
}

// GetStatus returns the persisted status of a run.
func (w *Workflow) GetStatus(ctx context.Context, runID string) (*Status, error) {
	return w.checkpoints.LoadRun(ctx, runID)
}

// drive executes a run to a terminal state on a background context.
func (w *Workflow) drive(st *Status) {
	ctx := context.Background()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if err := w.Run(ctx, st); err != nil {
		st.State = StateFailed
		st.Error = err.Error()
		st.UpdatedAt = time.Now()
		if saveErr := w.checkpoints.SaveRun(ctx, st); saveErr != nil {
			w.logger.Error(ctx, "Failed to persist failed repair run", saveErr)
		}
		w.logger.Error(ctx, "Repair run failed", err, map[string]interface{}{"run_id": st.ID})
	}
}

// Run executes the state machine synchronously from wherever st left off.
// Exposed for the CLI and tests; Start and Resume call it in the background.
func (w *Workflow) Run(ctx context.Context, st *Status) (err error) {
	ctx, span := observability.TraceRepairFunction(ctx, "Run",
		observability.AttributeRepairRun(st.ID),
		attribute.String("repair.state", string(st.State)))
	defer observability.FinishSpan(span, &err)

	if st.State == StateClearing {
		if err := w.clear(ctx, st); err != nil {
			return err
		}
	}
	if st.State == StateRebuilding {
		if err := w.rebuild(ctx, st); err != nil {
			return err
		}
	}
	if st.State == StateVerifying {
		if err := w.verify(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// clear wipes every partition once, then commits the transition to
// REBUILDING. Runs exactly once per repair run.
func (w *Workflow) clear(ctx context.Context, st *Status) error {
	for _, dim := range taxonomy.Dimensions() {
		p := w.store.Partition(dim.PartitionName())
		if err := p.ClearAll(ctx); err != nil {
			return err
		}
	}
	w.logger.Info(ctx, "Repair cleared all partitions", map[string]interface{}{"run_id": st.ID})

	st.State = StateRebuilding
	st.Phase = PhaseQuestions
	st.LastCursor = ""
	st.UpdatedAt = time.Now()
	return w.checkpoints.SaveRun(ctx, st)
}

// rebuild scans the primary store page by page, committing the cursor after
// every page. Questions come first, then user facts.
func (w *Workflow) rebuild(ctx context.Context, st *Status) error {
	if st.Phase == PhaseQuestions {
		for {
			page, next, done, err := w.primary.ScanQuestions(ctx, st.LastCursor, w.pageSize)
			if err != nil {
				return err
			}
			for _, q := range page {
				if err := w.indexQuestionRow(ctx, st, q); err != nil {
					return err
				}
			}

			st.LastCursor = next
			st.UpdatedAt = time.Now()
			if done {
				st.Phase = PhaseFacts
				st.LastCursor = ""
			}
			if err := w.checkpoints.SaveRun(ctx, st); err != nil {
				return err
			}
			if done {
				break
			}
		}
	}

	for {
		page, next, done, err := w.primary.ScanUserFacts(ctx, st.LastCursor, w.pageSize)
		if err != nil {
			return err
		}
		if err := w.indexFactPage(ctx, st, page); err != nil {
			return err
		}

		st.LastCursor = next
		st.UpdatedAt = time.Now()
		if done {
			st.State = StateVerifying
			st.Phase = ""
			st.LastCursor = ""
		}
		if err := w.checkpoints.SaveRun(ctx, st); err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// indexQuestionRow inserts one question into every applicable record
// partition and bumps the matching rebuild counters. The counter counts the
// row once whether or not the insert raced a live write.
func (w *Workflow) indexQuestionRow(ctx context.Context, st *Status, q *models.Question) error {
	for _, gran := range taxonomy.Granularities {
		ns, ok, err := taxonomy.RecordNamespace(gran, q)
		if err != nil {
			// A structurally broken row is logged and skipped; repair keeps going.
			w.logger.Warn(ctx, "Skipping row lacking a required dimension", map[string]interface{}{
				"run_id":      st.ID,
				"question_id": q.ID,
			})
			return nil
		}
		if !ok {
			continue
		}
		partition := taxonomy.Dimension{Gran: gran}.PartitionName()
		if _, err := w.store.Partition(partition).InsertIfAbsent(ctx, ns, q.ID); err != nil {
			return err
		}
		st.Counts[countKey(partition, ns)]++
	}
	return nil
}

// indexFactPage inserts one page of user facts, batch-loading the page's
// questions for their taxonomy coordinates. Facts pointing at deleted
// questions are skipped.
func (w *Workflow) indexFactPage(ctx context.Context, st *Status, page []*models.UserFact) error {
	if len(page) == 0 {
		return nil
	}

	ids := make([]string, 0, len(page))
	for _, f := range page {
		ids = append(ids, f.QuestionID)
	}
	questions, err := w.primary.GetQuestionsByIDs(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[string]*models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	for _, f := range page {
		q, ok := byID[f.QuestionID]
		if !ok {
			w.logger.Warn(ctx, "Skipping fact for missing question", map[string]interface{}{
				"run_id":      st.ID,
				"question_id": f.QuestionID,
				"kind":        string(f.Kind),
			})
			continue
		}
		for _, gran := range taxonomy.Granularities {
			ns, ok, err := taxonomy.FactNamespace(gran, f.UserID, q)
			if err != nil || !ok {
				if err != nil {
					w.logger.Warn(ctx, "Skipping fact lacking a required dimension", map[string]interface{}{
						"run_id":      st.ID,
						"question_id": q.ID,
					})
					break
				}
				continue
			}
			partition := taxonomy.Dimension{Fact: f.Kind, Gran: gran}.PartitionName()
			if _, err := w.store.Partition(partition).InsertIfAbsent(ctx, ns, q.ID); err != nil {
				return err
			}
			st.Counts[countKey(partition, ns)]++
		}
	}
	return nil
}

// verify recomputes every counted namespace and compares it against the
// rebuild counters. Mismatches are operational warnings, never failures;
// concurrent writes during the rebuild are the usual cause.
func (w *Workflow) verify(ctx context.Context, st *Status) error {
	mismatches := 0
	for key, expected := range st.Counts {
		partition, ns := splitCountKey(key)
		actual, err := w.store.Partition(partition).Count(ns)
		if err != nil {
			return err
		}
		if actual != expected {
			mismatches++
			w.logger.Warn(ctx, "Repair verification mismatch", map[string]interface{}{
				"run_id":    st.ID,
				"partition": partition,
				"namespace": ns,
				"expected":  expected,
				"actual":    actual,
			})
		}
	}

	st.State = StateDone
	st.Mismatches = mismatches
	st.UpdatedAt = time.Now()
	if err := w.checkpoints.SaveRun(ctx, st); err != nil {
		return err
	}
	w.logger.Info(ctx, "Repair run finished", map[string]interface{}{
		"run_id":     st.ID,
		"namespaces": len(st.Counts),
		"mismatches": mismatches,
	})
	return nil
}

func countKey(partition, namespace string) string {
	return fmt.Sprintf("%s/%s", partition, namespace)
}

func splitCountKey(key string) (partition, namespace string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
