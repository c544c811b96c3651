// Command orchestratorctl wires the orchestration core's packages together
// into a runnable service: it loads configuration, builds the Store,
// Planner, Agent Runner registry, Scheduler, Recovery Coordinator, and
// Supervisor, and exposes either a one-shot "run" command or a long-lived
// "serve" command with an SSE observer endpoint. Grounded on the runtime's
// cmd/demo wiring style (construct dependencies, register them, run).
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/agentflow/orchestrator/runtime/agent/agentrunner"
	"github.com/agentflow/orchestrator/runtime/agent/agentrunner/codeexec"
	"github.com/agentflow/orchestrator/runtime/agent/agentrunner/llmrunner"
	"github.com/agentflow/orchestrator/runtime/agent/agentrunner/mock"
	"github.com/agentflow/orchestrator/runtime/agent/config"
	"github.com/agentflow/orchestrator/runtime/agent/dag"
	"github.com/agentflow/orchestrator/runtime/agent/eventbus"
	"github.com/agentflow/orchestrator/runtime/agent/observer"
	"github.com/agentflow/orchestrator/runtime/agent/planner"
	"github.com/agentflow/orchestrator/runtime/agent/planner/llmplanner"
	"github.com/agentflow/orchestrator/runtime/agent/planner/llmplanner/anthropicmodel"
	"github.com/agentflow/orchestrator/runtime/agent/planner/llmplanner/openaimodel"
	"github.com/agentflow/orchestrator/runtime/agent/recovery"
	"github.com/agentflow/orchestrator/runtime/agent/store"
	"github.com/agentflow/orchestrator/runtime/agent/store/inmem"
	"github.com/agentflow/orchestrator/runtime/agent/store/redisstore"
	"github.com/agentflow/orchestrator/runtime/agent/subaction"
	"github.com/agentflow/orchestrator/runtime/agent/supervisor"
	"github.com/agentflow/orchestrator/runtime/agent/telemetry"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "orchestratorctl",
		Short: "Run and inspect agentic DAG actions",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (YAML/JSON/TOML)")
	root.AddCommand(newRunCmd(), newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// deps bundles every wired component a command needs.
type deps struct {
	cfg       config.Config
	st        store.Store
	pl        planner.Planner
	bus       eventbus.Bus
	sched     *dag.Scheduler
	coord     *recovery.Coordinator
	sup       *supervisor.Supervisor
	telemetry telemetry.Logger
}

func wire() (*deps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	var st store.Store
	switch cfg.StoreBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		rs, err := redisstore.New(redisstore.Options{Client: client})
		if err != nil {
			return nil, fmt.Errorf("orchestratorctl: build redis store: %w", err)
		}
		st = rs
	default:
		st = inmem.New()
	}

	gen, err := buildTextGenerator(cfg)
	if err != nil {
		return nil, err
	}

	pl, err := llmplanner.New(gen)
	if err != nil {
		return nil, fmt.Errorf("orchestratorctl: build planner: %w", err)
	}

	logger := telemetry.NewNoopLogger()
	metrics := telemetry.NewClueMetrics()
	tracer := telemetry.NewClueTracer()
	bus := eventbus.New(eventbus.WithLogger(logger))

	registry := agentrunner.NewRegistry()
	registry.Register("general", llmrunner.New(gen, "general"))
	registry.Register("report", llmrunner.New(gen, "report"))
	registry.Register("data_retrieval", llmrunner.New(gen, "data_retrieval"))
	registry.Register("spreadsheet", llmrunner.New(gen, "spreadsheet"))
	registry.Register("mock", mock.New("general"))

	codeRunner, err := codeexec.New(gen, codeexec.Options{Interpreter: cfg.CodeExecInterpreter, Timeout: cfg.CodeExecTimeout})
	if err != nil {
		return nil, fmt.Errorf("orchestratorctl: build code execution runner: %w", err)
	}
	registry.Register("code_execution", codeRunner)

	sched := dag.New(st, registry, bus, logger, dag.WithMetrics(metrics), dag.WithTracer(tracer))
	coord := recovery.New(st, pl, bus, logger, recovery.WithMetrics(metrics), recovery.WithTracer(tracer))
	sup := supervisor.New(st, sched, coord, bus, logger)

	registry.Register("sub_action", subaction.New(st, pl, sup))

	return &deps{cfg: cfg, st: st, pl: pl, bus: bus, sched: sched, coord: coord, sup: sup, telemetry: logger}, nil
}

func buildTextGenerator(cfg config.Config) (llmplanner.TextGenerator, error) {
	switch cfg.ModelProvider {
	case "openai":
		return openaimodel.NewFromAPIKey(cfg.OpenAIAPIKey, cfg.DefaultModel)
	default:
		return anthropicmodel.NewFromAPIKey(cfg.AnthropicAPIKey, cfg.DefaultModel)
	}
}

func newRunCmd() *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Plan and run a single action to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(prompt) == "" {
				return fmt.Errorf("orchestratorctl: --prompt is required")
			}
			d, err := wire()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			plan, err := d.pl.Plan(ctx, prompt)
			if err != nil {
				return fmt.Errorf("orchestratorctl: plan action: %w", err)
			}
			tasks, err := planner.Materialize("", plan, uuid.NewString)
			if err != nil {
				return fmt.Errorf("orchestratorctl: materialize plan: %w", err)
			}

			actionID := uuid.NewString()
			for i := range tasks {
				tasks[i].ActionID = actionID
			}
			if err := d.st.CreateAction(ctx, store.Action{ID: actionID, Title: plan.Title, RootPrompt: prompt, Status: store.ActionDraft}); err != nil {
				return fmt.Errorf("orchestratorctl: create action: %w", err)
			}
			if err := d.st.CreateTasks(ctx, tasks); err != nil {
				return fmt.Errorf("orchestratorctl: create tasks: %w", err)
			}

			if err := d.sup.Start(ctx, actionID); err != nil {
				return fmt.Errorf("orchestratorctl: run action: %w", err)
			}

			final, err := d.st.GetAction(ctx, actionID)
			if err != nil {
				return err
			}
			fmt.Printf("action %s: %s\n", actionID, final.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "the root prompt to plan and execute")
	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the action event stream over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := wire()
			if err != nil {
				return err
			}
			obs := observer.New(d.st, d.bus)

			mux := http.NewServeMux()
			mux.HandleFunc("/actions/", func(w http.ResponseWriter, r *http.Request) {
				actionID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/actions/"), "/events")
				obs.ServeActionEvents(w, r, actionID)
			})

			fmt.Printf("orchestratorctl: listening on %s\n", d.cfg.HTTPAddr)
			return http.ListenAndServe(d.cfg.HTTPAddr, mux)
		},
	}
	return cmd
}
