package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/specflow/specflow/internal/changelog"
	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/pkg/models"
)

// setupStore creates a fresh temporary store.
func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "specflow.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// setupMirroredStore creates a store with a change log attached.
func setupMirroredStore(t *testing.T) (*Store, *changelog.Log) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "specflow.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	log, err := changelog.New(filepath.Join(dir, "specs.jsonl"))
	if err != nil {
		t.Fatalf("failed to create changelog: %v", err)
	}
	s.SetChangeLog(log)
	t.Cleanup(func() {
		s.Close()
	})
	return s, log
}

func newSpec(id string) *models.Spec {
	now := time.Now()
	return &models.Spec{
		ID:        id,
		Title:     "Test spec " + id,
		Status:    models.SpecStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTask(id, specID string, deps ...string) *models.Task {
	now := time.Now()
	return &models.Task{
		ID:           id,
		SpecID:       specID,
		Title:        "Task " + id,
		Status:       models.TaskStatusTodo,
		Priority:     models.PriorityMedium,
		Dependencies: deps,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func mustCreateSpec(t *testing.T, s *Store, id string) *models.Spec {
	t.Helper()
	spec := newSpec(id)
	if err := s.CreateSpec(spec); err != nil {
		t.Fatalf("CreateSpec(%s) failed: %v", id, err)
	}
	return spec
}

func mustCreateTask(t *testing.T, s *Store, id, specID string, deps ...string) *models.Task {
	t.Helper()
	task := newTask(id, specID, deps...)
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask(%s) failed: %v", id, err)
	}
	return task
}

func TestOpen_MigratesToCurrentVersion(t *testing.T) {
	s := setupStore(t)
	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("SchemaVersion = %d, want %d", v, len(migrations))
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specflow.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_, err = s.conn.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		len(migrations)+5, formatTime(time.Now()))
	if err != nil {
		t.Fatalf("insert future version: %v", err)
	}
	s.Close()

	_, err = Open(path)
	if !errs.Is(err, errs.KindStoreCorruption) {
		t.Errorf("Open on newer schema: got %v, want store corruption", err)
	}
}

func TestCreateSpec_Duplicate(t *testing.T) {
	s := setupStore(t)
	mustCreateSpec(t, s, "spec-1")
	err := s.CreateSpec(newSpec("spec-1"))
	if !errs.Is(err, errs.KindDuplicateID) {
		t.Errorf("duplicate CreateSpec: got %v, want duplicate id", err)
	}
}

func TestGetSpec_NotFound(t *testing.T) {
	s := setupStore(t)
	_, err := s.GetSpec("missing")
	if !errs.Is(err, errs.KindNotFound) {
		t.Errorf("GetSpec(missing): got %v, want not found", err)
	}
}

func TestSpecRoundTrip(t *testing.T) {
	s := setupStore(t)
	spec := newSpec("spec-rt")
	spec.SourceType = "markdown"
	spec.Metadata = map[string]any{"owner": "alice"}
	if err := s.CreateSpec(spec); err != nil {
		t.Fatalf("CreateSpec failed: %v", err)
	}

	got, err := s.GetSpec("spec-rt")
	if err != nil {
		t.Fatalf("GetSpec failed: %v", err)
	}
	if got.Title != spec.Title || got.Status != spec.Status || got.SourceType != "markdown" {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if got.Metadata["owner"] != "alice" {
		t.Errorf("metadata lost: %v", got.Metadata)
	}
}

func TestUpdateSpec_BumpsUpdatedAt(t *testing.T) {
	s := setupStore(t)
	spec := mustCreateSpec(t, s, "spec-1")
	before := spec.UpdatedAt

	time.Sleep(2 * time.Millisecond)
	spec.Status = models.SpecStatusImplementing
	if err := s.UpdateSpec(spec); err != nil {
		t.Fatalf("UpdateSpec failed: %v", err)
	}
	got, err := s.GetSpec("spec-1")
	if err != nil {
		t.Fatalf("GetSpec failed: %v", err)
	}
	if got.Status != models.SpecStatusImplementing {
		t.Errorf("status = %q, want implementing", got.Status)
	}
	if !got.UpdatedAt.After(before) {
		t.Errorf("updated_at not bumped: %v <= %v", got.UpdatedAt, before)
	}
}

func TestDeleteSpec_CascadesTasks(t *testing.T) {
	s := setupStore(t)
	mustCreateSpec(t, s, "spec-1")
	mustCreateTask(t, s, "t1", "spec-1")
	mustCreateTask(t, s, "t2", "spec-1")

	if err := s.DeleteSpec("spec-1"); err != nil {
		t.Fatalf("DeleteSpec failed: %v", err)
	}
	if _, err := s.GetTask("t1"); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("task t1 survived spec delete: %v", err)
	}
}

func TestCreateTask_Validation(t *testing.T) {
	s := setupStore(t)
	mustCreateSpec(t, s, "spec-1")

	bad := newTask("t1", "spec-1")
	bad.Priority = 7
	if err := s.CreateTask(bad); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("priority 7: got %v, want invalid argument", err)
	}

	self := newTask("t2", "spec-1", "t2")
	if err := s.CreateTask(self); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("self dependency: got %v, want invalid argument", err)
	}

	badStatus := newTask("t3", "spec-1")
	badStatus.Status = "sleeping"
	if err := s.CreateTask(badStatus); !errs.Is(err, errs.KindInvalidStatus) {
		t.Errorf("bad status: got %v, want invalid status", err)
	}
}

func TestCreateTask_RejectsCycle(t *testing.T) {
	s := setupStore(t)
	mustCreateSpec(t, s, "spec-1")

	// b declares a dependency on c before c exists. Dangling ids are
	// allowed; closing the loop at c's creation is not.
	mustCreateTask(t, s, "b", "spec-1", "c")

	c := newTask("c", "spec-1", "b")
	if err := s.CreateTask(c); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("cycle b->c->b: got %v, want invalid argument", err)
	}
}

func TestListTasks_PriorityOrder(t *testing.T) {
	s := setupStore(t)
	mustCreateSpec(t, s, "spec-1")

	low := newTask("low", "spec-1")
	low.Priority = models.PriorityLow
	high := newTask("high", "spec-1")
	high.Priority = models.PriorityHigh
	med := newTask("med", "spec-1")
	med.Priority = models.PriorityMedium

	for _, task := range []*models.Task{low, high, med} {
		if err := s.CreateTask(task); err != nil {
			t.Fatalf("CreateTask(%s) failed: %v", task.ID, err)
		}
	}

	tasks, err := s.ListTasks("spec-1", "")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(tasks))
	}
	want := []string{"high", "med", "low"}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Errorf("tasks[%d] = %s, want %s", i, tasks[i].ID, id)
		}
	}
}

func TestGetReadyTasks_DependencyGating(t *testing.T) {
	s := setupStore(t)
	mustCreateSpec(t, s, "spec-1")
	mustCreateTask(t, s, "base", "spec-1")
	mustCreateTask(t, s, "dependent", "spec-1", "base")

	ready, err := s.GetReadyTasks("spec-1")
	if err != nil {
		t.Fatalf("GetReadyTasks failed: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "base" {
		t.Fatalf("ready = %v, want [base]", taskIDs(ready))
	}

	if _, err := s.UpdateTaskStatus("base", models.TaskStatusDone); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	ready, err = s.GetReadyTasks("spec-1")
	if err != nil {
		t.Fatalf("GetReadyTasks failed: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "dependent" {
		t.Errorf("ready after base done = %v, want [dependent]", taskIDs(ready))
	}
}

func taskIDs(tasks []*models.Task) []string {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	return ids
}

func TestCompletionSpecRoundTrip(t *testing.T) {
	s := setupStore(t)
	mustCreateSpec(t, s, "spec-1")

	task := newTask("t1", "spec-1")
	task.CompletionSpec = &models.CompletionSpec{
		Outcome:            "auth endpoint works",
		AcceptanceCriteria: []string{"login returns 200", "bad password returns 401"},
		Coder: &models.CompletionCriteria{
			Promise: "IMPLEMENTATION COMPLETE",
			Method:  models.VerifyStringMatch,
		},
		Tester: &models.CompletionCriteria{
			Promise:         "TESTS PASSED",
			Method:          models.VerifyExternal,
			Command:         "go test ./...",
			SuccessExitCode: 0,
		},
	}
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	got, err := s.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	cs := got.CompletionSpec
	if cs == nil {
		t.Fatal("completion spec not loaded")
	}
	if cs.Outcome != "auth endpoint works" {
		t.Errorf("outcome = %q", cs.Outcome)
	}
	if len(cs.AcceptanceCriteria) != 2 {
		t.Errorf("acceptance criteria = %v", cs.AcceptanceCriteria)
	}
	if cs.Coder == nil || cs.Coder.Promise != "IMPLEMENTATION COMPLETE" {
		t.Errorf("coder criteria = %+v", cs.Coder)
	}
	if cs.Tester == nil || cs.Tester.Command != "go test ./..." {
		t.Errorf("tester criteria = %+v", cs.Tester)
	}
	if cs.Reviewer != nil || cs.QA != nil {
		t.Errorf("unset roles should stay nil: reviewer=%v qa=%v", cs.Reviewer, cs.QA)
	}

	// Bulk path does not expand the spec.
	bare, err := s.GetTaskNoCompletion("t1")
	if err != nil {
		t.Fatalf("GetTaskNoCompletion failed: %v", err)
	}
	if bare.CompletionSpec != nil {
		t.Error("GetTaskNoCompletion expanded the completion spec")
	}
}

func TestAgentSlots(t *testing.T) {
	s := setupStore(t)
	mustCreateSpec(t, s, "spec-1")

	for i := 1; i <= models.MaxAgentSlots; i++ {
		id := taskIDFor(i)
		mustCreateTask(t, s, id, "spec-1")
		agent, err := s.RegisterAgent(id, models.AgentCoder, 0, "")
		if err != nil {
			t.Fatalf("RegisterAgent(%s) failed: %v", id, err)
		}
		if agent.Slot != i {
			t.Errorf("agent %s slot = %d, want %d", id, agent.Slot, i)
		}
	}

	mustCreateTask(t, s, "overflow", "spec-1")
	_, err := s.RegisterAgent("overflow", models.AgentCoder, 0, "")
	if !errs.Is(err, errs.KindSlotsExhausted) {
		t.Errorf("overflow registration: got %v, want slots exhausted", err)
	}

	// Freeing slot 3 makes it the lowest available.
	removed, err := s.DeregisterAgentByTask(taskIDFor(3))
	if err != nil || !removed {
		t.Fatalf("DeregisterAgentByTask failed: removed=%v err=%v", removed, err)
	}
	agent, err := s.RegisterAgent("overflow", models.AgentCoder, 0, "")
	if err != nil {
		t.Fatalf("RegisterAgent(overflow) failed: %v", err)
	}
	if agent.Slot != 3 {
		t.Errorf("reused slot = %d, want 3", agent.Slot)
	}
}

func taskIDFor(i int) string {
	return "agent-task-" + string(rune('a'+i-1))
}

func TestRegisterAgent_SameTaskKeepsSlot(t *testing.T) {
	s := setupStore(t)
	mustCreateSpec(t, s, "spec-1")
	mustCreateTask(t, s, "t1", "spec-1")

	first, err := s.RegisterAgent("t1", models.AgentCoder, 100, "")
	if err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}
	second, err := s.RegisterAgent("t1", models.AgentReviewer, 200, "/wt")
	if err != nil {
		t.Fatalf("re-register failed: %v", err)
	}
	if second.Slot != first.Slot {
		t.Errorf("slot changed on re-register: %d -> %d", first.Slot, second.Slot)
	}
	if second.AgentType != models.AgentReviewer || second.PID != 200 {
		t.Errorf("re-register did not update fields: %+v", second)
	}

	agents, err := s.ListActiveAgents()
	if err != nil {
		t.Fatalf("ListActiveAgents failed: %v", err)
	}
	if len(agents) != 1 {
		t.Errorf("got %d agents, want 1", len(agents))
	}
}

func TestRalphLoopLifecycle(t *testing.T) {
	s := setupStore(t)
	mustCreateSpec(t, s, "spec-1")
	mustCreateTask(t, s, "t1", "spec-1")

	loop, err := s.RegisterRalphLoop("t1", models.AgentCoder, 3)
	if err != nil {
		t.Fatalf("RegisterRalphLoop failed: %v", err)
	}
	if loop.Status != models.RalphRunning || loop.Iteration != 0 {
		t.Errorf("new loop = %+v", loop)
	}

	updated, err := s.UpdateRalphLoop(loop.ID, models.VerificationResult{
		Iteration: 1, PromiseFound: false, Reason: "promise missing",
	})
	if err != nil {
		t.Fatalf("UpdateRalphLoop failed: %v", err)
	}
	if updated.Iteration != 1 || len(updated.VerificationResults) != 1 {
		t.Errorf("after update: %+v", updated)
	}

	if err := s.CompleteRalphLoop(loop.ID, models.RalphCompleted); err != nil {
		t.Fatalf("CompleteRalphLoop failed: %v", err)
	}
	got, err := s.GetRalphLoop(loop.ID)
	if err != nil {
		t.Fatalf("GetRalphLoop failed: %v", err)
	}
	if got.Status != models.RalphCompleted || got.CompletedAt == nil {
		t.Errorf("completed loop = %+v", got)
	}

	// Terminal loops reject further iteration updates.
	_, err = s.UpdateRalphLoop(loop.ID, models.VerificationResult{Iteration: 2})
	if !errs.Is(err, errs.KindInvalidStatus) {
		t.Errorf("update after completion: got %v, want invalid status", err)
	}
}

func TestRegisterRalphLoop_SupersedesRunning(t *testing.T) {
	s := setupStore(t)
	mustCreateSpec(t, s, "spec-1")
	mustCreateTask(t, s, "t1", "spec-1")

	first, err := s.RegisterRalphLoop("t1", models.AgentCoder, 3)
	if err != nil {
		t.Fatalf("RegisterRalphLoop failed: %v", err)
	}
	second, err := s.RegisterRalphLoop("t1", models.AgentCoder, 3)
	if err != nil {
		t.Fatalf("second RegisterRalphLoop failed: %v", err)
	}

	old, err := s.GetRalphLoop(first.ID)
	if err != nil {
		t.Fatalf("GetRalphLoop failed: %v", err)
	}
	if old.Status != models.RalphCancelled {
		t.Errorf("superseded loop status = %q, want cancelled", old.Status)
	}
	running, err := s.GetRunningRalphLoop("t1")
	if err != nil {
		t.Fatalf("GetRunningRalphLoop failed: %v", err)
	}
	if running == nil || running.ID != second.ID {
		t.Errorf("running loop = %+v, want %s", running, second.ID)
	}
}

func TestExecutionLogs(t *testing.T) {
	s := setupStore(t)
	mustCreateSpec(t, s, "spec-1")
	mustCreateTask(t, s, "t1", "spec-1")

	for i, action := range []string{"implement", "review"} {
		entry := &models.ExecutionLog{
			TaskID:     "t1",
			AgentType:  models.AgentCoder,
			Action:     action,
			Output:     "output",
			Success:    i == 0,
			DurationMs: int64(100 * (i + 1)),
		}
		if err := s.LogExecution(entry); err != nil {
			t.Fatalf("LogExecution failed: %v", err)
		}
		if entry.ID == 0 {
			t.Error("LogExecution did not assign an id")
		}
	}

	logs, err := s.GetExecutionLogs("t1", 0)
	if err != nil {
		t.Fatalf("GetExecutionLogs failed: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d logs, want 2", len(logs))
	}
	if logs[0].Action != "implement" || logs[1].Action != "review" {
		t.Errorf("log order wrong: %s, %s", logs[0].Action, logs[1].Action)
	}
	if !logs[0].Success || logs[1].Success {
		t.Errorf("success flags wrong: %v, %v", logs[0].Success, logs[1].Success)
	}
}

func TestChangeLogMirroring(t *testing.T) {
	s, log := setupMirroredStore(t)
	mustCreateSpec(t, s, "spec-1")
	mustCreateTask(t, s, "t1", "spec-1")
	if _, err := s.UpdateTaskStatus("t1", models.TaskStatusDone); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	if err := s.DeleteTask("t1"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}

	records, err := log.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("got %d records, want 4", len(records))
	}
	wantTypes := []string{"create", "create", "update", "delete"}
	for i, rec := range records {
		if rec.ChangeType != wantTypes[i] {
			t.Errorf("record %d change_type = %q, want %q", i, rec.ChangeType, wantTypes[i])
		}
	}
	if records[3].Data != nil {
		t.Error("delete record should carry null data")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s, _ := setupMirroredStore(t)
	mustCreateSpec(t, s, "spec-1")

	task := newTask("t1", "spec-1")
	task.CompletionSpec = &models.CompletionSpec{
		Outcome: "done means done",
		Coder:   &models.CompletionCriteria{Promise: "IMPLEMENTATION COMPLETE"},
	}
	if err := s.CreateTask(task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	stats, err := s.ExportAll()
	if err != nil {
		t.Fatalf("ExportAll failed: %v", err)
	}
	if stats.Specs != 1 || stats.Tasks != 1 {
		t.Errorf("export stats = %+v", stats)
	}

	// Import into a fresh database, replaying the exported log.
	dir := t.TempDir()
	fresh, err := Open(filepath.Join(dir, "fresh.db"))
	if err != nil {
		t.Fatalf("Open fresh failed: %v", err)
	}
	defer fresh.Close()
	log, err := changelog.New(s.ChangeLog().Path())
	if err != nil {
		t.Fatalf("reopen changelog failed: %v", err)
	}
	fresh.SetChangeLog(log)

	if _, err := fresh.ImportChanges(); err != nil {
		t.Fatalf("ImportChanges failed: %v", err)
	}
	got, err := fresh.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask after import failed: %v", err)
	}
	if got.CompletionSpec == nil || got.CompletionSpec.Outcome != "done means done" {
		t.Errorf("completion spec lost in round trip: %+v", got.CompletionSpec)
	}

	// Import must not have re-appended records.
	n, err := log.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("log grew during import: %d records, want 2", n)
	}

	status, err := fresh.GetSyncStatus()
	if err != nil {
		t.Fatalf("GetSyncStatus failed: %v", err)
	}
	if !status.InSync {
		t.Errorf("expected in sync after import: %+v", status)
	}
}

func TestCompact_CollapsesHistory(t *testing.T) {
	s, log := setupMirroredStore(t)
	mustCreateSpec(t, s, "spec-1")
	mustCreateTask(t, s, "t1", "spec-1")
	mustCreateTask(t, s, "t2", "spec-1")
	for i := 0; i < 3; i++ {
		if _, err := s.UpdateTaskStatus("t1", models.TaskStatusImplementing); err != nil {
			t.Fatalf("UpdateTaskStatus failed: %v", err)
		}
	}
	if err := s.DeleteTask("t2"); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}

	stats, err := s.Compact()
	if err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if stats.Specs != 1 || stats.Tasks != 1 {
		t.Errorf("compact stats = %+v", stats)
	}
	n, err := log.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("compacted log has %d records, want 2", n)
	}
}
