// Package redisstore provides a Redis-backed implementation of store.Store,
// the "best-effort durability via an external store" the core's Non-goals
// call for: at-most-once in-process execution with state that survives a
// process restart, not exactly-once durable replay.
//
// Rows are JSON-marshaled values keyed by type and ID; per-action task
// membership is tracked with a Redis set so AllTasks can return a
// consistent snapshot without a full keyspace scan. Multi-row updates
// (MarkTasksRunning, ReplaceTasks) run inside a single Redis pipeline so
// they commit as one round trip, satisfying the Store contract's atomic
// multi-row update requirement within one action.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentflow/orchestrator/runtime/agent/store"
)

const (
	defaultOpTimeout = 5 * time.Second
	keyPrefix        = "orchestrator:"
)

// Options configures the Redis-backed store.
type Options struct {
	// Client is a ready-to-use Redis client. Required.
	Client *redis.Client
	// Timeout bounds every Store operation. Defaults to 5s.
	Timeout time.Duration
}

// Store implements store.Store on top of a Redis client.
type Store struct {
	rdb     *redis.Client
	timeout time.Duration
}

// New constructs a Store backed by the given Redis client.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redisstore: client is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{rdb: opts.Client, timeout: timeout}, nil
}

// Name identifies this client for health-check registries.
func (s *Store) Name() string { return "orchestrator-redis-store" }

// Ping reports whether the Redis connection is healthy.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

func actionKey(id string) string      { return keyPrefix + "action:" + id }
func taskKey(id string) string        { return keyPrefix + "task:" + id }
func actionTasksKey(id string) string { return keyPrefix + "action:" + id + ":tasks" }
func outputKey(id string) string      { return keyPrefix + "output:" + id }
func artifactKey(id string) string    { return keyPrefix + "artifact:" + id }
func logsKey(id string) string        { return keyPrefix + "logs:" + id }

// CreateAction inserts a new action row.
func (s *Store) CreateAction(ctx context.Context, action store.Action) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	action.UpdatedAt = time.Now().UTC()
	return s.putJSON(ctx, actionKey(action.ID), action)
}

// GetAction retrieves an action by ID.
func (s *Store) GetAction(ctx context.Context, actionID string) (store.Action, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var action store.Action
	if err := s.getJSON(ctx, actionKey(actionID), &action); err != nil {
		return store.Action{}, err
	}
	return action, nil
}

// UpdateAction overwrites an existing action row.
func (s *Store) UpdateAction(ctx context.Context, action store.Action) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if exists, err := s.rdb.Exists(ctx, actionKey(action.ID)).Result(); err != nil {
		return err
	} else if exists == 0 {
		return store.ErrNotFound
	}
	action.UpdatedAt = time.Now().UTC()
	return s.putJSON(ctx, actionKey(action.ID), action)
}

// DeleteAction removes an action row and every task, task output, and log
// entry belonging to it.
func (s *Store) DeleteAction(ctx context.Context, actionID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ids, err := s.rdb.SMembers(ctx, actionTasksKey(actionID)).Result()
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, actionKey(actionID))
		pipe.Del(ctx, actionTasksKey(actionID))
		for _, id := range ids {
			pipe.Del(ctx, taskKey(id))
			pipe.Del(ctx, outputKey(id))
			pipe.Del(ctx, logsKey(id))
		}
		return nil
	})
	return err
}

// CreateTasks inserts one or more task rows in a single pipeline.
func (s *Store) CreateTasks(ctx context.Context, tasks []store.Task) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	now := time.Now().UTC()
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range tasks {
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			t.UpdatedAt = now
			raw, err := json.Marshal(t)
			if err != nil {
				return err
			}
			pipe.Set(ctx, taskKey(t.ID), raw, 0)
			pipe.SAdd(ctx, actionTasksKey(t.ActionID), t.ID)
		}
		return nil
	})
	return err
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var t store.Task
	if err := s.getJSON(ctx, taskKey(taskID), &t); err != nil {
		return store.Task{}, err
	}
	return t, nil
}

// AllTasks returns a consistent snapshot of every task belonging to actionID.
func (s *Store) AllTasks(ctx context.Context, actionID string) ([]store.Task, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ids, err := s.rdb.SMembers(ctx, actionTasksKey(actionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = taskKey(id)
	}
	raws, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	tasks := make([]store.Task, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue // task row was deleted (e.g. by ReplaceTasks) between SMembers and MGet
		}
		var t store.Task
		if err := json.Unmarshal([]byte(str), &t); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// MarkTasksRunning atomically flips every task in taskIDs to running.
func (s *Store) MarkTasksRunning(ctx context.Context, actionID string, taskIDs []string) error {
	return s.mutateTasks(ctx, actionID, taskIDs, func(t *store.Task) {
		t.Status = store.TaskRunning
	})
}

// ResetTasks atomically resets every task in taskIDs to pending.
func (s *Store) ResetTasks(ctx context.Context, taskIDs []string) error {
	return s.mutateTasks(ctx, "", taskIDs, func(t *store.Task) {
		t.Status = store.TaskPending
		t.OutputSummary = ""
	})
}

// SetTaskCompleted atomically marks taskID completed and records its output.
func (s *Store) SetTaskCompleted(ctx context.Context, taskID string, summary string, output store.TaskOutput) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var t store.Task
	if err := s.getJSON(ctx, taskKey(taskID), &t); err != nil {
		return err
	}
	t.Status = store.TaskCompleted
	t.OutputSummary = summary
	t.UpdatedAt = time.Now().UTC()
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		raw, err := json.Marshal(t)
		if err != nil {
			return err
		}
		pipe.Set(ctx, taskKey(taskID), raw, 0)
		outRaw, err := json.Marshal(output)
		if err != nil {
			return err
		}
		pipe.Set(ctx, outputKey(taskID), outRaw, 0)
		return nil
	})
	return err
}

// SetTaskFailed atomically marks taskID failed with message.
func (s *Store) SetTaskFailed(ctx context.Context, taskID string, message string) error {
	return s.mutateTasks(ctx, "", []string{taskID}, func(t *store.Task) {
		t.Status = store.TaskFailed
		t.OutputSummary = message
	})
}

// SetTaskSubAction records that taskID spawned a child Action.
func (s *Store) SetTaskSubAction(ctx context.Context, taskID string, subActionID string) error {
	return s.mutateTasks(ctx, "", []string{taskID}, func(t *store.Task) {
		t.SubActionID = subActionID
	})
}

// mutateTasks loads each task, applies mutate, and writes every row back in
// one pipeline, satisfying the atomic multi-row update requirement.
func (s *Store) mutateTasks(ctx context.Context, _ string, taskIDs []string, mutate func(*store.Task)) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if len(taskIDs) == 0 {
		return nil
	}
	keys := make([]string, len(taskIDs))
	for i, id := range taskIDs {
		keys[i] = taskKey(id)
	}
	raws, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, raw := range raws {
			str, ok := raw.(string)
			if !ok {
				continue
			}
			var t store.Task
			if err := json.Unmarshal([]byte(str), &t); err != nil {
				return err
			}
			mutate(&t)
			t.UpdatedAt = now
			out, err := json.Marshal(t)
			if err != nil {
				return err
			}
			pipe.Set(ctx, keys[i], out, 0)
		}
		return nil
	})
	return err
}

// ReplaceTasks atomically removes tasks, inserts replacements, and rewires
// dependent tasks that referenced a removed task ID.
func (s *Store) ReplaceTasks(ctx context.Context, actionID string, remove []string, add []store.Task, rewireTo map[string]string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	existing, err := s.AllTasksNoTimeout(ctx, actionID)
	if err != nil {
		return err
	}
	removed := make(map[string]struct{}, len(remove))
	for _, id := range remove {
		removed[id] = struct{}{}
	}
	now := time.Now().UTC()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range remove {
			pipe.Del(ctx, taskKey(id))
			pipe.SRem(ctx, actionTasksKey(actionID), id)
		}
		for _, t := range add {
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			t.UpdatedAt = now
			raw, err := json.Marshal(t)
			if err != nil {
				return err
			}
			pipe.Set(ctx, taskKey(t.ID), raw, 0)
			pipe.SAdd(ctx, actionTasksKey(t.ActionID), t.ID)
		}
		for _, t := range existing {
			if _, gone := removed[t.ID]; gone {
				continue
			}
			changed := false
			deps := make([]string, 0, len(t.Dependencies))
			for _, dep := range t.Dependencies {
				if _, gone := removed[dep]; gone {
					if repl, ok := rewireTo[dep]; ok && repl != "" {
						deps = append(deps, repl)
					}
					changed = true
					continue
				}
				deps = append(deps, dep)
			}
			if !changed {
				continue
			}
			t.Dependencies = deps
			t.UpdatedAt = now
			raw, err := json.Marshal(t)
			if err != nil {
				return err
			}
			pipe.Set(ctx, taskKey(t.ID), raw, 0)
		}
		return nil
	})
	return err
}

// AllTasksNoTimeout is AllTasks without re-applying a timeout, for internal
// callers (ReplaceTasks) that already hold one.
func (s *Store) AllTasksNoTimeout(ctx context.Context, actionID string) ([]store.Task, error) {
	ids, err := s.rdb.SMembers(ctx, actionTasksKey(actionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = taskKey(id)
	}
	raws, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	tasks := make([]store.Task, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var t store.Task
		if err := json.Unmarshal([]byte(str), &t); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// GetTaskOutput retrieves the output row for taskID.
func (s *Store) GetTaskOutput(ctx context.Context, taskID string) (store.TaskOutput, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var out store.TaskOutput
	if err := s.getJSON(ctx, outputKey(taskID), &out); err != nil {
		return store.TaskOutput{}, err
	}
	return out, nil
}

// CreateArtifact inserts a new artifact row.
func (s *Store) CreateArtifact(ctx context.Context, artifact store.Artifact) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.putJSON(ctx, artifactKey(artifact.ID), artifact)
}

// GetArtifact retrieves an artifact by ID.
func (s *Store) GetArtifact(ctx context.Context, artifactID string) (store.Artifact, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var a store.Artifact
	if err := s.getJSON(ctx, artifactKey(artifactID), &a); err != nil {
		return store.Artifact{}, err
	}
	return a, nil
}

// AppendLog appends a single log entry via RPUSH, safe for concurrent
// writers since Redis list operations are serialized server-side.
func (s *Store) AppendLog(ctx context.Context, entry store.LogEntry) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.rdb.RPush(ctx, logsKey(entry.TaskID), raw).Err()
}

// ListLogs returns every log entry for taskID in append order.
func (s *Store) ListLogs(ctx context.Context, taskID string) ([]store.LogEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	raws, err := s.rdb.LRange(ctx, logsKey(taskID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]store.LogEntry, 0, len(raws))
	for _, raw := range raws {
		var e store.LogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, raw, 0).Err()
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		return fmt.Errorf("redisstore: get %s: %w", key, err)
	}
	return json.Unmarshal([]byte(raw), v)
}
