package dag

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/agentflow/orchestrator/runtime/agent/agentrunner"
	"github.com/agentflow/orchestrator/runtime/agent/eventbus"
	"github.com/agentflow/orchestrator/runtime/agent/store"
	"github.com/agentflow/orchestrator/runtime/agent/store/inmem"
)

// orderRecordingRunner records the order in which tasks actually execute, so
// the property below can check both at-most-once execution and that every
// task ran only after each of its dependencies completed.
type orderRecordingRunner struct {
	mu   sync.Mutex
	runs map[string]int
	seq  []string
}

func (r *orderRecordingRunner) Run(_ context.Context, req agentrunner.Request) (agentrunner.Result, error) {
	r.mu.Lock()
	r.runs[req.TaskID]++
	r.seq = append(r.seq, req.TaskID)
	r.mu.Unlock()
	return agentrunner.Result{Summary: "ok"}, nil
}

// TestRunUntilDrainedRespectsTopologicalOrderAndRunsEachTaskOnce generates
// random DAGs (task i may depend on any subset of tasks with a smaller
// index, which is enough to guarantee acyclicity) and checks the invariants
// a DAG Scheduler must uphold regardless of shape: every task dispatches
// exactly once, and no task starts before all of its dependencies have
// completed.
func TestRunUntilDrainedRespectsTopologicalOrderAndRunsEachTaskOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("topological order and at-most-once execution", prop.ForAll(
		func(seed int64, n int) bool {
			rng := rand.New(rand.NewSource(seed))

			deps := make([][]int, n)
			for i := 1; i < n; i++ {
				for j := 0; j < i; j++ {
					if rng.Intn(2) == 0 {
						deps[i] = append(deps[i], j)
					}
				}
			}

			ctx := context.Background()
			st := inmem.New()
			actionID := fmt.Sprintf("a-%d-%d", seed, n)
			if err := st.CreateAction(ctx, store.Action{ID: actionID, Title: "prop"}); err != nil {
				return false
			}

			ids := make([]string, n)
			for i := range ids {
				ids[i] = fmt.Sprintf("t%d", i)
			}
			tasks := make([]store.Task, n)
			for i := range tasks {
				depIDs := make([]string, len(deps[i]))
				for k, d := range deps[i] {
					depIDs[k] = ids[d]
				}
				tasks[i] = store.Task{
					ID:           ids[i],
					ActionID:     actionID,
					Prompt:       "p",
					AgentType:    "rec",
					Dependencies: depIDs,
					Status:       store.TaskPending,
				}
			}
			if err := st.CreateTasks(ctx, tasks); err != nil {
				return false
			}

			runner := &orderRecordingRunner{runs: map[string]int{}}
			registry := agentrunner.NewRegistry()
			registry.Register("rec", runner)

			sched := New(st, registry, eventbus.New(), nil)
			if err := sched.RunUntilDrained(ctx, actionID); err != nil {
				return false
			}

			for _, id := range ids {
				if runner.runs[id] != 1 {
					return false
				}
			}

			position := make(map[string]int, n)
			for i, id := range runner.seq {
				position[id] = i
			}
			for i, id := range ids {
				for _, d := range deps[i] {
					if position[id] < position[ids[d]] {
						return false
					}
				}
			}
			return true
		},
		gen.Int64Range(1, 1<<30),
		gen.IntRange(1, 7),
	))

	properties.TestingRun(t)
}
