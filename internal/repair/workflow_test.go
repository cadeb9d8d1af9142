package repair

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/aggindex"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/config"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/taxonomy"
	contextutils "github.com/OrtoQBank/ortoqbank-sub001/internal/utils"
)

// memPrimary is an in-memory primary store for rebuild scans.
type memPrimary struct {
	questions []*models.Question
	facts     []*models.UserFact

	// failQuestionPageAfter aborts the question scan once that many pages
	// were served, simulating a crash mid-rebuild. Negative disables it.
	failQuestionPageAfter int
	questionPagesServed   int
}

func (m *memPrimary) ScanQuestions(_ context.Context, cursor string, pageSize int) ([]*models.Question, string, bool, error) {
	if m.failQuestionPageAfter >= 0 && m.questionPagesServed >= m.failQuestionPageAfter {
		return nil, "", false, fmt.Errorf("simulated primary store outage")
	}
	m.questionPagesServed++

	var page []*models.Question
	for _, q := range m.questions {
		if q.ID > cursor {
			page = append(page, q)
			if len(page) == pageSize {
				break
			}
		}
	}
	if len(page) == 0 {
		return nil, cursor, true, nil
	}
	return page, page[len(page)-1].ID, len(page) < pageSize, nil
}

func (m *memPrimary) ScanUserFacts(_ context.Context, cursor string, pageSize int) ([]*models.UserFact, string, bool, error) {
	var page []*models.UserFact
	for _, f := range m.facts {
		if f.ID > cursor {
			page = append(page, f)
			if len(page) == pageSize {
				break
			}
		}
	}
	if len(page) == 0 {
		return nil, cursor, true, nil
	}
	return page, page[len(page)-1].ID, len(page) < pageSize, nil
}

func (m *memPrimary) GetQuestionsByIDs(_ context.Context, ids []string) ([]*models.Question, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*models.Question
	for _, q := range m.questions {
		if want[q.ID] {
			out = append(out, q)
		}
	}
	return out, nil
}

// memCheckpoints persists deep copies, like a real database would.
type memCheckpoints struct {
	runs map[string]*Status
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{runs: make(map[string]*Status)}
}

func copyStatus(st *Status) *Status {
	out := *st
	out.Counts = make(map[string]int, len(st.Counts))
	for k, v := range st.Counts {
		out.Counts[k] = v
	}
	return &out
}

func (m *memCheckpoints) CreateRun(_ context.Context, st *Status) error {
	m.runs[st.ID] = copyStatus(st)
	return nil
}

func (m *memCheckpoints) SaveRun(_ context.Context, st *Status) error {
	m.runs[st.ID] = copyStatus(st)
	return nil
}

func (m *memCheckpoints) LoadRun(_ context.Context, id string) (*Status, error) {
	st, ok := m.runs[id]
	if !ok {
		return nil, contextutils.WrapError(contextutils.ErrRecordNotFound, "repair run not found")
	}
	return copyStatus(st), nil
}

func (m *memCheckpoints) ActiveRun(_ context.Context) (*Status, error) {
	for _, st := range m.runs {
		if !st.Terminal() {
			return copyStatus(st), nil
		}
	}
	return nil, nil
}

func testQuestions(n int) []*models.Question {
	out := make([]*models.Question, 0, n)
	for i := 0; i < n; i++ {
		q := &models.Question{ID: fmt.Sprintf("q%04d", i), ThemeID: "T"}
		if i%2 == 0 {
			q.SubthemeID = "S"
		}
		if i%4 == 0 {
			q.GroupID = "G"
		}
		out = append(out, q)
	}
	return out
}

func openWorkflowStore(t *testing.T) *aggindex.Store {
	t.Helper()
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	store, err := aggindex.Open(config.IndexConfig{Path: t.TempDir()}, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func newWorkflow(store *aggindex.Store, primary PrimaryStore, checkpoints CheckpointStore) *Workflow {
	logger := observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
	return NewWorkflow(store, primary, checkpoints, logger, 50)
}

func freshStatus() *Status {
	now := time.Now()
	return &Status{
		ID:        "run-1",
		State:     StateClearing,
		Counts:    make(map[string]int),
		StartedAt: now,
		UpdatedAt: now,
	}
}

func TestWorkflow_RebuildConverges(t *testing.T) {
	ctx := context.Background()
	store := openWorkflowStore(t)

	questions := testQuestions(120)
	facts := []*models.UserFact{
		{ID: "f01", UserID: "u1", QuestionID: "q0000", Kind: models.FactAnswered},
		{ID: "f02", UserID: "u1", QuestionID: "q0001", Kind: models.FactAnswered},
		{ID: "f03", UserID: "u1", QuestionID: "q0001", Kind: models.FactIncorrect},
		{ID: "f04", UserID: "u2", QuestionID: "q0002", Kind: models.FactBookmarked},
		{ID: "f05", UserID: "u1", QuestionID: "q-deleted", Kind: models.FactAnswered},
	}
	primary := &memPrimary{questions: questions, facts: facts, failQuestionPageAfter: -1}
	checkpoints := newMemCheckpoints()
	w := newWorkflow(store, primary, checkpoints)

	st := freshStatus()
	require.NoError(t, checkpoints.CreateRun(ctx, st))
	require.NoError(t, w.Run(ctx, st))

	assert.Equal(t, StateDone, st.State)
	assert.Zero(t, st.Mismatches, "no concurrent writes, counts must verify cleanly")

	t.Run("global partition holds every question", func(t *testing.T) {
		p := store.Partition("records_global")
		count, err := p.Count(taxonomy.GlobalNamespace)
		require.NoError(t, err)
		assert.Equal(t, 120, count)

		// Every rank resolves and all ids are distinct.
		seen := make(map[string]bool, count)
		for r := 0; r < count; r++ {
			id, err := p.At(taxonomy.GlobalNamespace, r)
			require.NoError(t, err)
			assert.False(t, seen[id])
			seen[id] = true
		}
	})

	t.Run("taxonomy partitions match the seeded shape", func(t *testing.T) {
		count, err := store.Partition("records_by_theme").Count("T")
		require.NoError(t, err)
		assert.Equal(t, 120, count)

		count, err = store.Partition("records_by_subtheme").Count("S")
		require.NoError(t, err)
		assert.Equal(t, 60, count)

		count, err = store.Partition("records_by_group").Count("G")
		require.NoError(t, err)
		assert.Equal(t, 30, count)

		// Half the S questions are grouped, half are the remainder.
		count, err = store.Partition("records_by_subtheme_ungrouped").Count("S")
		require.NoError(t, err)
		assert.Equal(t, 30, count)
	})

	t.Run("fact partitions are rebuilt per user", func(t *testing.T) {
		count, err := store.Partition("answered_global").Count("u1")
		require.NoError(t, err)
		assert.Equal(t, 2, count, "fact for the deleted question is skipped")

		count, err = store.Partition("incorrect_by_theme").Count("u1_T")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		count, err = store.Partition("bookmarked_global").Count("u2")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestWorkflow_ResumeMatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()
	questions := testQuestions(175)

	// Reference: an uninterrupted run.
	refStore := openWorkflowStore(t)
	refCheckpoints := newMemCheckpoints()
	refPrimary := &memPrimary{questions: questions, failQuestionPageAfter: -1}
	refStatus := freshStatus()
	require.NoError(t, refCheckpoints.CreateRun(ctx, refStatus))
	require.NoError(t, newWorkflow(refStore, refPrimary, refCheckpoints).Run(ctx, refStatus))

	// Interrupted run: the primary store dies after two question pages.
	store := openWorkflowStore(t)
	checkpoints := newMemCheckpoints()
	primary := &memPrimary{questions: questions, failQuestionPageAfter: 2}
	st := freshStatus()
	require.NoError(t, checkpoints.CreateRun(ctx, st))
	w := newWorkflow(store, primary, checkpoints)

	err := w.Run(ctx, st)
	require.Error(t, err, "run must surface the outage")

	// Resume from the last committed checkpoint, outage over.
	resumed, err := checkpoints.LoadRun(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRebuilding, resumed.State)
	assert.NotEmpty(t, resumed.LastCursor, "cursor must reflect committed pages")

	primary.failQuestionPageAfter = -1
	require.NoError(t, w.Run(ctx, resumed))
	assert.Equal(t, StateDone, resumed.State)
	assert.Zero(t, resumed.Mismatches)

	assert.Equal(t, refStatus.Counts, resumed.Counts, "resumed counts must match an uninterrupted run")

	refKeys, err := refStore.Partition("records_global").Keys(taxonomy.GlobalNamespace)
	require.NoError(t, err)
	keys, err := store.Partition("records_global").Keys(taxonomy.GlobalNamespace)
	require.NoError(t, err)
	sort.Strings(refKeys)
	sort.Strings(keys)
	assert.Equal(t, refKeys, keys)
}

func TestWorkflow_LiveWritesAbsorbedByIdempotentInsert(t *testing.T) {
	ctx := context.Background()
	store := openWorkflowStore(t)
	questions := testQuestions(60)

	// A live write lands in the index between CLEARING and the page that
	// would cover it. The rebuild's insertIfAbsent must not double it.
	checkpoints := newMemCheckpoints()
	primary := &memPrimary{questions: questions, failQuestionPageAfter: -1}
	w := newWorkflow(store, primary, checkpoints)

	st := freshStatus()
	require.NoError(t, checkpoints.CreateRun(ctx, st))
	require.NoError(t, w.clear(ctx, st))

	require.NoError(t, store.Partition("records_global").Insert(ctx, taxonomy.GlobalNamespace, "q0030"))

	require.NoError(t, w.Run(ctx, st))
	assert.Equal(t, StateDone, st.State)

	count, err := store.Partition("records_global").Count(taxonomy.GlobalNamespace)
	require.NoError(t, err)
	assert.Equal(t, 60, count)
}

func TestWorkflow_StartRejectsConcurrentRuns(t *testing.T) {
	ctx := context.Background()
	store := openWorkflowStore(t)
	checkpoints := newMemCheckpoints()

	// An unfinished run is already on record.
	stale := freshStatus()
	stale.State = StateRebuilding
	require.NoError(t, checkpoints.CreateRun(ctx, stale))

	w := newWorkflow(store, &memPrimary{failQuestionPageAfter: -1}, checkpoints)
	_, err := w.Start(ctx)
	require.Error(t, err)
	assert.True(t, contextutils.IsError(err, contextutils.ErrRepairAlreadyRunning))
}
