package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/journey"
	"github.com/xraph/journey/cache"
	"github.com/xraph/journey/dispatcher"
	"github.com/xraph/journey/engine"
	"github.com/xraph/journey/id"
	"github.com/xraph/journey/limits"
	"github.com/xraph/journey/node"
	"github.com/xraph/journey/provider"
	"github.com/xraph/journey/queue"
	"github.com/xraph/journey/store/memory"
	"github.com/xraph/journey/workflow"
)

// ──────────────────────────────────────────────────
// Fixture
// ──────────────────────────────────────────────────

// fakeProvider records sends and can be scripted to fail.
type fakeProvider struct {
	calls   int
	failing bool
}

func (p *fakeProvider) Send(_ context.Context, _ map[string]any) (*provider.SendResult, error) {
	p.calls++
	if p.failing {
		return nil, errors.New("smtp unavailable")
	}
	return &provider.SendResult{Success: true, MessageID: fmt.Sprintf("msg-%d", p.calls)}, nil
}

func (p *fakeProvider) Authenticate(context.Context, map[string]any) (bool, error) {
	return true, nil
}

func (p *fakeProvider) TestConnection(context.Context) error { return nil }

type fixture struct {
	eng       *engine.Engine
	store     *memory.Store
	email     *fakeProvider
	providers *provider.Registry
	nodes     *node.Registry
	cache     *cache.Memory
	now       time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		email: &fakeProvider{},
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.providers = provider.NewRegistry()
	if err := f.providers.Register("email", f.email); err != nil {
		t.Fatalf("Register provider: %v", err)
	}
	f.nodes = node.DefaultRegistry(f.providers)
	f.cache = cache.NewMemory()

	opts = append([]engine.Option{engine.WithClock(f.clock)}, opts...)
	eng, err := engine.New(engine.Deps{
		Store: f.store,
		Nodes: f.nodes,
		Cache: f.cache,
	}, opts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	f.eng = eng
	return f
}

// chainDef builds trigger → action(email) → optional extra nodes.
func chainDef(name string) *workflow.Workflow {
	return &workflow.Workflow{
		Name:   name,
		Type:   "onboarding",
		Status: workflow.StatusActive,
		Nodes: []workflow.Node{
			{ID: "t1", Type: workflow.NodeTypeTrigger, Config: map[string]any{"event": "customer.register"}, Next: []string{"a1"}},
			{ID: "a1", Type: workflow.NodeTypeAction, Config: map[string]any{"provider": "email"}},
		},
	}
}

func mustCreate(t *testing.T, f *fixture, w *workflow.Workflow) id.WorkflowID {
	t.Helper()
	sum, err := f.eng.CreateWorkflow(context.Background(), w)
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	return sum.ID
}

// ──────────────────────────────────────────────────
// CreateWorkflow / UpdateWorkflow / DeleteWorkflow
// ──────────────────────────────────────────────────

func TestCreateWorkflow_Valid(t *testing.T) {
	f := newFixture(t)

	sum, err := f.eng.CreateWorkflow(context.Background(), chainDef("welcome"))
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if sum.NodeCount != 2 {
		t.Errorf("NodeCount = %d, want 2", sum.NodeCount)
	}
	if sum.Status != workflow.StatusActive {
		t.Errorf("Status = %q, want active", sum.Status)
	}

	got, err := f.eng.GetWorkflow(context.Background(), sum.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.Name != "welcome" {
		t.Errorf("Name = %q, want welcome", got.Name)
	}
}

func TestCreateWorkflow_ValidationError(t *testing.T) {
	f := newFixture(t)

	w := chainDef("")
	w.Type = ""
	_, err := f.eng.CreateWorkflow(context.Background(), w)
	var verr *journey.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(verr.Violations) != 2 {
		t.Errorf("violations = %d, want name and type", len(verr.Violations))
	}
}

func TestCreateWorkflow_NoTriggerNotPersisted(t *testing.T) {
	f := newFixture(t)

	w := chainDef("broken")
	w.Nodes = w.Nodes[1:] // drop the trigger
	_, err := f.eng.CreateWorkflow(context.Background(), w)
	var serr *journey.StructureError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want StructureError", err)
	}

	rows, err := f.store.ListWorkflows(context.Background(), workflow.ListOpts{})
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %d, want no persisted workflow", len(rows))
	}
}

func TestCreateWorkflow_DanglingSuccessor(t *testing.T) {
	f := newFixture(t)

	w := chainDef("dangling")
	w.Nodes[0].Next = []string{"ghost"}
	_, err := f.eng.CreateWorkflow(context.Background(), w)
	var serr *journey.StructureError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want StructureError", err)
	}
}

func TestCreateWorkflow_UnregisteredNodeType(t *testing.T) {
	f := newFixture(t)

	w := chainDef("custom")
	w.Nodes[1].Type = "webhook"
	_, err := f.eng.CreateWorkflow(context.Background(), w)
	if !journey.IsNotFound(err) {
		t.Fatalf("err = %v, want not-found for node type", err)
	}
}

func TestUpdateWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wfID := mustCreate(t, f, chainDef("welcome"))

	upd := chainDef("welcome-v2")
	if _, err := f.eng.UpdateWorkflow(ctx, wfID, upd); err != nil {
		t.Fatalf("UpdateWorkflow: %v", err)
	}
	got, _ := f.eng.GetWorkflow(ctx, wfID)
	if got.Name != "welcome-v2" {
		t.Errorf("Name = %q, want updated definition", got.Name)
	}

	_, err := f.eng.UpdateWorkflow(ctx, id.NewWorkflowID(), chainDef("x"))
	if !journey.IsNotFound(err) {
		t.Errorf("UpdateWorkflow unknown = %v, want not-found", err)
	}
}

func TestDeleteWorkflow_ConflictWithActiveExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wfID := mustCreate(t, f, chainDef("welcome"))

	// Park a scheduled execution on the workflow.
	if _, err := f.eng.ScheduleWorkflow(ctx, wfID, map[string]any{"customer_id": 1}, f.now.Add(time.Hour)); err != nil {
		t.Fatalf("ScheduleWorkflow: %v", err)
	}

	err := f.eng.DeleteWorkflow(ctx, wfID)
	var cerr *journey.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if _, err := f.eng.GetWorkflow(ctx, wfID); err != nil {
		t.Error("conflicting delete removed the workflow row")
	}
}

func TestDeleteWorkflow_Succeeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wfID := mustCreate(t, f, chainDef("welcome"))

	if err := f.eng.DeleteWorkflow(ctx, wfID); err != nil {
		t.Fatalf("DeleteWorkflow: %v", err)
	}
	if _, err := f.eng.GetWorkflow(ctx, wfID); !journey.IsNotFound(err) {
		t.Errorf("GetWorkflow after delete = %v, want not-found", err)
	}
}

func TestWorkflowCacheInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wfID := mustCreate(t, f, chainDef("welcome"))

	// Warm the cache, then update: the read must see the new version.
	if _, err := f.eng.GetWorkflow(ctx, wfID); err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if _, err := f.eng.UpdateWorkflow(ctx, wfID, chainDef("v2")); err != nil {
		t.Fatalf("UpdateWorkflow: %v", err)
	}
	got, _ := f.eng.GetWorkflow(ctx, wfID)
	if got.Name != "v2" {
		t.Errorf("Name = %q, stale cache after update", got.Name)
	}
}

// ──────────────────────────────────────────────────
// ExecuteWorkflow / traversal
// ──────────────────────────────────────────────────

func TestExecuteWorkflow_CompletesChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wfID := mustCreate(t, f, chainDef("welcome"))

	exec, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{
		"customer_id": 5,
		"email":       "a@b.com",
	})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if exec.State != workflow.StateCompleted {
		t.Fatalf("State = %q (%s), want completed", exec.State, exec.Error)
	}
	if len(exec.Results) != 2 {
		t.Fatalf("Results = %d entries, want 2", len(exec.Results))
	}
	actionRes := exec.Results["a1"]
	if !actionRes.Success || actionRes.Output["provider"] != "email" {
		t.Errorf("action result = %+v, want success with output.provider=email", actionRes)
	}
	if f.email.calls != 1 {
		t.Errorf("provider calls = %d, want 1", f.email.calls)
	}

	stored, err := f.store.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if stored.State != workflow.StateCompleted || stored.CompletedAt == nil {
		t.Errorf("stored execution = %q/%v, want completed with timestamp", stored.State, stored.CompletedAt)
	}
}

func TestExecuteWorkflow_InactiveRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := chainDef("paused")
	w.Status = workflow.StatusInactive
	wfID := mustCreate(t, f, w)

	_, err := f.eng.ExecuteWorkflow(ctx, wfID, nil)
	var serr *journey.StateError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want StateError", err)
	}
}

func TestExecuteWorkflow_FailFastStopsChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// trigger → action(ok) → action(broken provider code).
	w := chainDef("flaky")
	w.Nodes[1].Next = []string{"a2"}
	w.Nodes = append(w.Nodes, workflow.Node{
		ID: "a2", Type: workflow.NodeTypeAction, Config: map[string]any{"provider": "sms"},
	})
	wfID := mustCreate(t, f, w)

	exec, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 1})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if exec.State != workflow.StateFailed {
		t.Fatalf("State = %q, want failed", exec.State)
	}
	if exec.Error == "" {
		t.Error("Error not recorded on failed execution")
	}
	// The failing node's result is recorded; nothing after it runs.
	if len(exec.Results) != 3 {
		t.Errorf("Results = %d entries, want trigger, a1 and failing a2", len(exec.Results))
	}
	if exec.Results["a2"].Success {
		t.Error("failing node recorded as success")
	}
}

func TestExecuteWorkflow_SecondActionFailureKeepsPriorResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// trigger → a1(ok) → a2 fails at send time. a2's failure is
	// recorded, and no node after it runs.
	broken := &fakeProvider{failing: true}
	if err := f.providers.Register("push", broken); err != nil {
		t.Fatalf("Register: %v", err)
	}

	w := chainDef("nudge")
	w.Nodes[1].Next = []string{"a2"}
	w.Nodes = append(w.Nodes, workflow.Node{
		ID: "a2", Type: workflow.NodeTypeAction,
		Config: map[string]any{"provider": "push"},
		Next:   []string{"a3"},
	}, workflow.Node{
		ID: "a3", Type: workflow.NodeTypeAction, Config: map[string]any{"provider": "email"},
	})
	wfID := mustCreate(t, f, w)

	exec, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 2})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if exec.State != workflow.StateFailed {
		t.Fatalf("State = %q, want failed", exec.State)
	}
	if _, ok := exec.Results["a3"]; ok {
		t.Error("node after the failure ran")
	}
	if !exec.Results["t1"].Success || !exec.Results["a1"].Success {
		t.Error("successful prior results missing")
	}
	if f.email.calls != 1 {
		t.Errorf("email provider calls = %d, want only a1's send", f.email.calls)
	}
}

func TestExecuteWorkflow_ContextAccumulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A custom node that asserts it can see the trigger output and the
	// initial context, and overwrites a key (last write wins).
	var seen map[string]any
	if err := f.nodes.Register("probe", func() node.Handler {
		return node.NewCustom("probe", nil, func(_ context.Context, _ *workflow.Node, execCtx map[string]any) (*node.Outcome, error) {
			seen = copyMap(execCtx)
			return &node.Outcome{Success: true, Output: map[string]any{"email": "rewritten@x.io"}}, nil
		})
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	w := chainDef("probe-flow")
	w.Nodes[1].Next = []string{"p1"}
	w.Nodes = append(w.Nodes, workflow.Node{ID: "p1", Type: "probe"})
	wfID := mustCreate(t, f, w)

	exec, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 1, "email": "a@b.com"})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if exec.State != workflow.StateCompleted {
		t.Fatalf("State = %q (%s), want completed", exec.State, exec.Error)
	}
	if seen["email"] != "a@b.com" {
		t.Errorf("probe saw email = %v, want initial context visible", seen["email"])
	}
	if seen["provider"] != "email" {
		t.Errorf("probe saw provider = %v, want prior action output merged", seen["provider"])
	}
	if exec.Context["email"] != "rewritten@x.io" {
		t.Errorf("final email = %v, want last write to win", exec.Context["email"])
	}
}

func TestExecuteWorkflow_CooperativeTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A node that burns fake wall-clock time past the budget.
	if err := f.nodes.Register("slow", func() node.Handler {
		return node.NewCustom("slow", nil, func(context.Context, *workflow.Node, map[string]any) (*node.Outcome, error) {
			f.now = f.now.Add(301 * time.Second)
			return &node.Outcome{Success: true}, nil
		})
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	w := chainDef("slow-flow")
	w.Nodes[1].Next = []string{"s1"}
	w.Nodes = append(w.Nodes,
		workflow.Node{ID: "s1", Type: "slow", Next: []string{"a2"}},
		workflow.Node{ID: "a2", Type: workflow.NodeTypeAction, Config: map[string]any{"provider": "email"}},
	)
	wfID := mustCreate(t, f, w)

	exec, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 1})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if exec.State != workflow.StateFailed {
		t.Fatalf("State = %q, want failed on timeout", exec.State)
	}
	if exec.Error == "" {
		t.Error("timeout error not recorded")
	}
	// The slow node itself completed; the node after it never ran.
	if _, ok := exec.Results["a2"]; ok {
		t.Error("node ran after the timeout check should have fired")
	}
}

// ──────────────────────────────────────────────────
// Condition branching
// ──────────────────────────────────────────────────

func conditionDef() *workflow.Workflow {
	return &workflow.Workflow{
		Name:   "vip-routing",
		Type:   "marketing",
		Status: workflow.StatusActive,
		Nodes: []workflow.Node{
			{ID: "t1", Type: workflow.NodeTypeTrigger, Config: map[string]any{"event": "order.placed"}, Next: []string{"c1"}},
			{ID: "c1", Type: workflow.NodeTypeCondition,
				Config: map[string]any{"expression": "total > 100", "true_next": "vip", "false_next": "std"},
				Next:   []string{"vip", "std"}},
			{ID: "vip", Type: workflow.NodeTypeAction, Config: map[string]any{"provider": "email", "payload": map[string]any{"template": "vip"}}},
			{ID: "std", Type: workflow.NodeTypeAction, Config: map[string]any{"provider": "email", "payload": map[string]any{"template": "std"}}},
		},
	}
}

func TestCondition_SelectsDeclaredBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wfID := mustCreate(t, f, conditionDef())

	exec, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 1, "total": 250})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if exec.State != workflow.StateCompleted {
		t.Fatalf("State = %q (%s), want completed", exec.State, exec.Error)
	}
	if _, ok := exec.Results["vip"]; !ok {
		t.Error("vip branch not taken for total=250")
	}
	if _, ok := exec.Results["std"]; ok {
		t.Error("both branches ran")
	}
}

func TestCondition_UndeclaredSelectionFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := conditionDef()
	// The condition may select "vip", but the node no longer declares it.
	w.Nodes[1].Next = []string{"std"}
	wfID := mustCreate(t, f, w)

	exec, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 1, "total": 250})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if exec.State != workflow.StateFailed {
		t.Fatalf("State = %q, want failed on undeclared selection", exec.State)
	}
}

// ──────────────────────────────────────────────────
// Admission control
// ──────────────────────────────────────────────────

func TestExecuteWorkflow_CustomerLimit(t *testing.T) {
	lim := limits.NewManager(limits.Config{MaxConcurrent: 2})
	f := newFixtureWithLimits(t, lim)
	ctx := context.Background()
	wfID := mustCreate(t, f, chainDef("welcome"))

	// Two scheduled executions hold the customer's both slots.
	for i := 0; i < 2; i++ {
		if _, err := f.eng.ScheduleWorkflow(ctx, wfID, map[string]any{"customer_id": 7}, f.now.Add(time.Hour)); err != nil {
			t.Fatalf("ScheduleWorkflow: %v", err)
		}
	}

	_, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 7})
	var lerr *journey.LimitExceededError
	if !errors.As(err, &lerr) {
		t.Fatalf("err = %v, want LimitExceededError", err)
	}
	if lerr.Limit != 2 {
		t.Errorf("Limit = %d, want 2", lerr.Limit)
	}

	// A different customer is unaffected.
	if _, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 8}); err != nil {
		t.Errorf("unrelated customer rejected: %v", err)
	}
}

func TestAdmission_ReleasedOnTerminal(t *testing.T) {
	lim := limits.NewManager(limits.Config{MaxConcurrent: 1})
	f := newFixtureWithLimits(t, lim)
	ctx := context.Background()
	wfID := mustCreate(t, f, chainDef("welcome"))

	// A completed execution must return its slot.
	if _, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 9}); err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if _, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 9}); err != nil {
		t.Fatalf("slot not released after completion: %v", err)
	}

	// A cancelled execution must return its slot too.
	exec, err := f.eng.ScheduleWorkflow(ctx, wfID, map[string]any{"customer_id": 9}, f.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ScheduleWorkflow: %v", err)
	}
	if ok, err := f.eng.CancelExecution(ctx, exec.ID); err != nil || !ok {
		t.Fatalf("CancelExecution = %v/%v", ok, err)
	}
	if _, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 9}); err != nil {
		t.Fatalf("slot not released after cancel: %v", err)
	}
}

// Admission consults the persisted active count, so executions created
// before a process restart still hold their slots against a fresh
// limits manager.
func TestAdmission_CountsPersistedExecutions(t *testing.T) {
	lim := limits.NewManager(limits.Config{MaxConcurrent: 1})
	f := newFixtureWithLimits(t, lim)
	ctx := context.Background()
	wfID := mustCreate(t, f, chainDef("welcome"))

	// An execution scheduled by a previous process: present in the
	// store, unknown to this manager.
	prior := &workflow.Execution{
		Entity:      journey.NewEntity(),
		ID:          id.NewExecutionID(),
		WorkflowID:  wfID,
		CustomerID:  "7",
		State:       workflow.StateScheduled,
		ScheduledAt: f.now.Add(time.Hour),
	}
	if err := f.store.CreateExecution(ctx, prior); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	_, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 7})
	var lerr *journey.LimitExceededError
	if !errors.As(err, &lerr) {
		t.Fatalf("err = %v, want LimitExceededError for persisted active execution", err)
	}

	// Cancelling the prior execution frees the slot.
	if ok, err := f.eng.CancelExecution(ctx, prior.ID); err != nil || !ok {
		t.Fatalf("CancelExecution = %v/%v", ok, err)
	}
	if _, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 7}); err != nil {
		t.Fatalf("slot not freed after cancelling persisted execution: %v", err)
	}
}

func newFixtureWithLimits(t *testing.T, lim *limits.Manager) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		email: &fakeProvider{},
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.providers = provider.NewRegistry()
	if err := f.providers.Register("email", f.email); err != nil {
		t.Fatalf("Register provider: %v", err)
	}
	f.nodes = node.DefaultRegistry(f.providers)

	eng, err := engine.New(engine.Deps{
		Store:  f.store,
		Nodes:  f.nodes,
		Limits: lim,
	}, engine.WithClock(f.clock))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	f.eng = eng
	return f
}

// ──────────────────────────────────────────────────
// Schedule / Cancel / Sweep
// ──────────────────────────────────────────────────

func TestScheduleWorkflow_PastRejected(t *testing.T) {
	f := newFixture(t)
	wfID := mustCreate(t, f, chainDef("welcome"))

	_, err := f.eng.ScheduleWorkflow(context.Background(), wfID, nil, f.now.Add(-time.Second))
	var verr *journey.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	_, err = f.eng.ScheduleWorkflow(context.Background(), wfID, nil, f.now)
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v for when=now, want ValidationError (strictly future)", err)
	}
}

func TestScheduleWorkflow_NoTraversalUntilSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wfID := mustCreate(t, f, chainDef("welcome"))

	exec, err := f.eng.ScheduleWorkflow(ctx, wfID, map[string]any{"customer_id": 1}, f.now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("ScheduleWorkflow: %v", err)
	}
	if exec.State != workflow.StateScheduled {
		t.Fatalf("State = %q, want scheduled", exec.State)
	}
	if f.email.calls != 0 {
		t.Fatal("traversal ran at schedule time")
	}

	// Not due yet.
	n, err := f.eng.ProcessScheduledExecutions(ctx)
	if err != nil {
		t.Fatalf("ProcessScheduledExecutions: %v", err)
	}
	if n != 0 {
		t.Fatalf("promoted = %d before due time, want 0", n)
	}

	f.now = f.now.Add(31 * time.Minute)
	n, err = f.eng.ProcessScheduledExecutions(ctx)
	if err != nil {
		t.Fatalf("ProcessScheduledExecutions: %v", err)
	}
	if n != 1 {
		t.Fatalf("promoted = %d, want 1", n)
	}

	stored, _ := f.store.GetExecution(ctx, exec.ID)
	if stored.State != workflow.StateCompleted {
		t.Errorf("State = %q (%s), want completed after sweep", stored.State, stored.Error)
	}
	if f.email.calls != 1 {
		t.Errorf("provider calls = %d, want 1", f.email.calls)
	}
}

func TestCancelExecution_Semantics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wfID := mustCreate(t, f, chainDef("welcome"))

	// Scheduled → cancel succeeds.
	exec, err := f.eng.ScheduleWorkflow(ctx, wfID, map[string]any{"customer_id": 1}, f.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("ScheduleWorkflow: %v", err)
	}
	ok, err := f.eng.CancelExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("CancelExecution: %v", err)
	}
	if !ok {
		t.Fatal("cancel of a scheduled execution returned false")
	}
	stored, _ := f.store.GetExecution(ctx, exec.ID)
	if stored.State != workflow.StateCancelled {
		t.Errorf("State = %q, want cancelled", stored.State)
	}

	// Terminal → cancel is a refused no-op.
	done, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 1})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	ok, err = f.eng.CancelExecution(ctx, done.ID)
	if err != nil {
		t.Fatalf("CancelExecution: %v", err)
	}
	if ok {
		t.Fatal("cancel of a completed execution returned true")
	}
	stored, _ = f.store.GetExecution(ctx, done.ID)
	if stored.State != workflow.StateCompleted {
		t.Errorf("State = %q, cancel mutated a terminal execution", stored.State)
	}

	// Cancelled executions never get promoted by the sweep.
	f.now = f.now.Add(2 * time.Hour)
	if n, _ := f.eng.ProcessScheduledExecutions(ctx); n != 0 {
		t.Errorf("promoted = %d, want cancelled execution skipped", n)
	}
}

func TestSweep_PerItemIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	good := mustCreate(t, f, chainDef("good"))
	bad := mustCreate(t, f, chainDef("bad"))

	gExec, err := f.eng.ScheduleWorkflow(ctx, good, map[string]any{"customer_id": 1}, f.now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ScheduleWorkflow: %v", err)
	}
	bExec, err := f.eng.ScheduleWorkflow(ctx, bad, map[string]any{"customer_id": 2}, f.now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ScheduleWorkflow: %v", err)
	}

	// Deleting the bad workflow out from under its execution makes the
	// resume fail; the good one must still complete.
	if err := f.store.DeleteWorkflow(ctx, bad); err != nil {
		t.Fatalf("DeleteWorkflow: %v", err)
	}

	f.now = f.now.Add(2 * time.Minute)
	if _, err := f.eng.ProcessScheduledExecutions(ctx); err != nil {
		t.Fatalf("ProcessScheduledExecutions: %v", err)
	}

	g, _ := f.store.GetExecution(ctx, gExec.ID)
	if g.State != workflow.StateCompleted {
		t.Errorf("good execution = %q (%s), want completed", g.State, g.Error)
	}
	b, _ := f.store.GetExecution(ctx, bExec.ID)
	if b.State != workflow.StateFailed {
		t.Errorf("bad execution = %q, want failed and recorded", b.State)
	}
}

// ──────────────────────────────────────────────────
// Delay suspension
// ──────────────────────────────────────────────────

func TestDelayNode_SuspendsAndResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := &workflow.Workflow{
		Name:   "drip",
		Type:   "marketing",
		Status: workflow.StatusActive,
		Nodes: []workflow.Node{
			{ID: "t1", Type: workflow.NodeTypeTrigger, Config: map[string]any{"event": "signup"}, Next: []string{"d1"}},
			{ID: "d1", Type: workflow.NodeTypeDelay, Config: map[string]any{"duration": 3600}, Next: []string{"a1"}},
			{ID: "a1", Type: workflow.NodeTypeAction, Config: map[string]any{"provider": "email"}},
		},
	}
	wfID := mustCreate(t, f, w)

	exec, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 3})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if exec.State != workflow.StateScheduled {
		t.Fatalf("State = %q, want scheduled (suspended)", exec.State)
	}
	if exec.CurrentNodeID != "a1" {
		t.Errorf("CurrentNodeID = %q, want resume point a1", exec.CurrentNodeID)
	}
	if want := f.now.Add(time.Hour); !exec.ScheduledAt.Equal(want) {
		t.Errorf("ScheduledAt = %v, want %v", exec.ScheduledAt, want)
	}
	if f.email.calls != 0 {
		t.Fatal("action ran before the delay elapsed")
	}

	// Not due yet: the sweep skips it.
	if n, _ := f.eng.ProcessScheduledExecutions(ctx); n != 0 {
		t.Fatal("sweep promoted a suspended execution early")
	}

	f.now = f.now.Add(61 * time.Minute)
	if n, _ := f.eng.ProcessScheduledExecutions(ctx); n != 1 {
		t.Fatal("sweep did not resume the suspended execution")
	}

	stored, _ := f.store.GetExecution(ctx, exec.ID)
	if stored.State != workflow.StateCompleted {
		t.Fatalf("State = %q (%s), want completed after resume", stored.State, stored.Error)
	}
	if f.email.calls != 1 {
		t.Errorf("provider calls = %d, want 1 after resume", f.email.calls)
	}
	// The full walk's results are on the one record.
	if len(stored.Results) != 3 {
		t.Errorf("Results = %d entries, want trigger, delay and action", len(stored.Results))
	}
}

func TestDelayedExecution_Cancellable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := &workflow.Workflow{
		Name:   "drip",
		Type:   "marketing",
		Status: workflow.StatusActive,
		Nodes: []workflow.Node{
			{ID: "t1", Type: workflow.NodeTypeTrigger, Config: map[string]any{"event": "signup"}, Next: []string{"d1"}},
			{ID: "d1", Type: workflow.NodeTypeDelay, Config: map[string]any{"duration": 600}, Next: []string{"a1"}},
			{ID: "a1", Type: workflow.NodeTypeAction, Config: map[string]any{"provider": "email"}},
		},
	}
	wfID := mustCreate(t, f, w)

	exec, err := f.eng.ExecuteWorkflow(ctx, wfID, map[string]any{"customer_id": 3})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	// While suspended, the execution is in scheduled state and can be
	// cancelled like any scheduled execution.
	ok, err := f.eng.CancelExecution(ctx, exec.ID)
	if err != nil || !ok {
		t.Fatalf("CancelExecution = %v/%v, want cancelled", ok, err)
	}
	f.now = f.now.Add(time.Hour)
	if n, _ := f.eng.ProcessScheduledExecutions(ctx); n != 0 {
		t.Fatal("sweep resumed a cancelled execution")
	}
	if f.email.calls != 0 {
		t.Error("action ran for a cancelled execution")
	}
}

// ──────────────────────────────────────────────────
// Event triggering and end-to-end drain
// ──────────────────────────────────────────────────

func TestTriggerWorkflowsByEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mustCreate(t, f, chainDef("welcome"))    // customer.register
	mustCreate(t, f, chainDef("welcome-b"))  // customer.register
	other := chainDef("order-flow")
	other.Nodes[0].Config = map[string]any{"event": "order.placed"}
	mustCreate(t, f, other)
	paused := chainDef("paused")
	paused.Status = workflow.StatusInactive
	mustCreate(t, f, paused)

	n, err := f.eng.TriggerWorkflowsByEvent(ctx, "customer.register", map[string]any{"customer_id": 5})
	if err != nil {
		t.Fatalf("TriggerWorkflowsByEvent: %v", err)
	}
	if n != 2 {
		t.Errorf("started = %d, want the two active matching workflows", n)
	}
	if f.email.calls != 2 {
		t.Errorf("provider calls = %d, want 2", f.email.calls)
	}
}

func TestEndToEnd_QueueToCompletedExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wfID := mustCreate(t, f, chainDef("welcome"))

	// Wire queue → dispatcher → engine trigger listener.
	d := dispatcher.New()
	if err := d.AddListener("customer.*", f.eng.EventListener(), 0); err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	q := queue.New(f.store, func(ctx context.Context, event string, payload map[string]any) error {
		_, err := d.Dispatch(ctx, event, payload)
		return err
	}, queue.WithClock(f.clock))

	if _, err := q.Push(ctx, "customer.register", map[string]any{
		"customer_id": 5,
		"email":       "a@b.com",
	}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	report, err := q.Process(ctx, 10)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if report.Processed != 1 {
		t.Fatalf("report = %+v, want the entry processed", report)
	}

	execs, err := f.eng.ListExecutions(ctx, workflow.ExecListOpts{WorkflowID: wfID})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("executions = %d, want 1", len(execs))
	}
	exec := execs[0]
	if exec.State != workflow.StateCompleted {
		t.Fatalf("State = %q (%s), want completed", exec.State, exec.Error)
	}
	if exec.CustomerID != "5" {
		t.Errorf("CustomerID = %q, want propagated from payload", exec.CustomerID)
	}
	if len(exec.Results) != 2 {
		t.Fatalf("Results = %d entries, want 2", len(exec.Results))
	}
	if exec.Results["a1"].Output["provider"] != "email" {
		t.Errorf("action output = %v, want provider=email", exec.Results["a1"].Output)
	}
}

func copyMap(m map[string]any) map[string]any {
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
