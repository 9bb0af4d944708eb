package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arroschaves/brandaocontador-e2e/internal/failure"
	"github.com/arroschaves/brandaocontador-e2e/internal/report"
	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
	"github.com/arroschaves/brandaocontador-e2e/internal/testutil"
)

var _ report.Recorder = (*Store)(nil)
var _ IDGenerator = UUIDv7Generator{}
var _ IDGenerator = (*testutil.FixedIDGenerator)(nil)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestRun(t *testing.T, s *Store, id string, at time.Time) {
	t.Helper()
	require.NoError(t, s.CreateRun(context.Background(), Run{
		ID:        id,
		StartedAt: at,
		BaseURL:   "http://localhost:4173",
		APIURL:    "http://localhost:3001",
	}))
}

func passingResult(runID, name string, at time.Time) scenario.ExecutionResult {
	return scenario.ExecutionResult{
		RunID:    runID,
		Scenario: name,
		Source:   "scenarios/api/" + name + ".yaml",
		State:    scenario.StateCompleted,
		Outcome:  scenario.OutcomePass,
		Steps: []scenario.StepOutcome{
			{Index: 0, Name: "POST /auth/login", Action: scenario.ActionRequest, Status: scenario.StepSuccess, Duration: 40 * time.Millisecond},
			{Index: 1, Name: "GET /admin/usuarios", Action: scenario.ActionRequest, Status: scenario.StepSuccess, Duration: 15 * time.Millisecond},
		},
		Final:     scenario.AssertionOutcome{Evaluated: true, Pass: true},
		StartedAt: at,
		Duration:  55 * time.Millisecond,
	}
}

func failingResult(runID, name string, at time.Time) scenario.ExecutionResult {
	return scenario.ExecutionResult{
		RunID:    runID,
		Scenario: name,
		State:    scenario.StateAborted,
		Outcome:  scenario.OutcomeError,
		Steps: []scenario.StepOutcome{
			{Index: 0, Name: "navigate /login", Action: scenario.ActionNavigate, Status: scenario.StepSuccess},
			{Index: 1, Name: "click text=Aceitar", Action: scenario.ActionClick, Status: scenario.StepTimeout, Tolerated: true,
				Code: failure.CodeResolutionTimeout, Error: "RESOLUTION_TIMEOUT: text=Aceitar not found after 2s (step 1)"},
			{Index: 2, Name: "click #enviar", Action: scenario.ActionClick, Status: scenario.StepError,
				Code: failure.CodeUnreachable, Error: "UNREACHABLE: click #enviar (step 2)"},
			{Index: 3, Name: "assert", Action: scenario.ActionAssert, Status: scenario.StepNotRun},
		},
		Failure:   &scenario.Failure{Code: failure.CodeUnreachable, Message: "click #enviar", Step: 2},
		StartedAt: at,
		Duration:  2500 * time.Millisecond,
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)

		var count int
		require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count))
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}
	a, b := gen.Generate(), gen.Generate()

	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestWriteResult_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", testutil.Epoch)

	pass := passingResult("run-1", "admin_login", testutil.Epoch.Add(time.Second))
	fail := failingResult("run-1", "ui_certificate_upload", testutil.Epoch.Add(2*time.Second))

	inserted, err := s.WriteResult(ctx, pass)
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, s.Record(ctx, fail))

	got, err := s.ReadResults(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, pass, got[0])
	assert.Equal(t, fail, got[1])
}

func TestWriteResult_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", testutil.Epoch)

	r := passingResult("run-1", "admin_login", testutil.Epoch)
	inserted, err := s.WriteResult(ctx, r)
	require.NoError(t, err)
	assert.True(t, inserted)

	r.Outcome = scenario.OutcomeFail
	inserted, err = s.WriteResult(ctx, r)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.ReadResults(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, scenario.OutcomePass, got[0].Outcome)
	assert.Len(t, got[0].Steps, 2)
}

func TestWriteResult_RequiresRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.WriteResult(ctx, passingResult("", "x", testutil.Epoch))
	assert.ErrorIs(t, err, ErrNoRunID)

	// Foreign key: the run must exist.
	_, err = s.WriteResult(ctx, passingResult("missing", "x", testutil.Epoch))
	assert.Error(t, err)
}

func TestReadResults_AppendOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", testutil.Epoch)

	// Appended out of start-time order; reads follow append order.
	names := []string{"zeta", "alpha", "mid"}
	for i, name := range names {
		at := testutil.Epoch.Add(time.Duration(len(names)-i) * time.Second)
		require.NoError(t, s.Record(ctx, passingResult("run-1", name, at)))
	}

	got, err := s.ReadResults(ctx, "run-1")
	require.NoError(t, err)
	var order []string
	for _, r := range got {
		order = append(order, r.Scenario)
	}
	assert.Equal(t, names, order)
}

func TestReadResults_UnknownRun(t *testing.T) {
	s := createTestStore(t)

	got, err := s.ReadResults(context.Background(), "nope")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestListRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	createTestRun(t, s, "run-a", testutil.Epoch)
	createTestRun(t, s, "run-b", testutil.Epoch.Add(time.Hour))
	createTestRun(t, s, "run-c", testutil.Epoch.Add(2*time.Hour))

	require.NoError(t, s.Record(ctx, passingResult("run-b", "one", testutil.Epoch)))
	require.NoError(t, s.Record(ctx, failingResult("run-b", "two", testutil.Epoch)))
	fail := passingResult("run-b", "three", testutil.Epoch)
	fail.Outcome = scenario.OutcomeFail
	require.NoError(t, s.Record(ctx, fail))
	require.NoError(t, s.FinishRun(ctx, "run-b", testutil.Epoch.Add(time.Hour+90*time.Second)))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-c", runs[0].ID)
	assert.Equal(t, "run-b", runs[1].ID)
	assert.Equal(t, "run-a", runs[2].ID)

	b := runs[1]
	assert.Equal(t, report.Summary{Total: 3, Passed: 1, Failed: 1, Errored: 1, Duration: 90 * time.Second}, b.Summary)
	assert.Equal(t, "http://localhost:3001", b.APIURL)
	assert.True(t, b.StartedAt.Equal(testutil.Epoch.Add(time.Hour)))

	assert.Equal(t, 0, runs[0].Summary.Total)
	assert.True(t, runs[0].FinishedAt.IsZero())

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "run-c", limited[0].ID)
}

func TestGetRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestRun(t, s, "run-1", testutil.Epoch)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.True(t, run.StartedAt.Equal(testutil.Epoch))

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = s.FinishRun(ctx, "missing", testutil.Epoch)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStore_AsSinkRecorder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := testutil.NewFixedIDGenerator("run-fixed").Generate()
	createTestRun(t, s, id, testutil.Epoch)

	sink := report.NewSink(nil, s)
	require.NoError(t, sink.Append(ctx, passingResult(id, "admin_login", testutil.Epoch)))

	got, err := s.ReadResults(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 1)

	var text strings.Builder
	require.NoError(t, report.WriteText(&text, got, false))
	assert.Contains(t, text.String(), "✓ admin_login (55ms)")
}
