// Package agent implements the autonomous reasoning loop: each iteration
// assembles context from knowledge, goal and memory, asks the model for the
// next action, and dispatches it through the gated tool registry. Every
// iteration leaves exactly one loop-level audit trail entry; gate denials are
// recorded by the workflow engine and count as that iteration's entry.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fieldworkhq/fieldwork/api/schemas"
	"github.com/fieldworkhq/fieldwork/internal/knowledge"
	"github.com/fieldworkhq/fieldwork/internal/tools"
	"github.com/fieldworkhq/fieldwork/internal/workflow"
)

// maxToolResultChars caps how much of a tool result is fed back into memory.
const maxToolResultChars = 4000

// Config carries an agent's identity and its bound collaborators.
type Config struct {
	Name            string
	Role            string
	Registry        *tools.Registry
	Knowledge       []knowledge.Pack
	Trail           schemas.TrailSink
	Gates           *workflow.Engine
	LLM             schemas.LLMClient
	Limiter         *rate.Limiter
	ContextLookback int
	Tier            schemas.ModelTier
}

// RunResult summarizes one autonomous run.
type RunResult struct {
	Status     schemas.GoalStatus
	Iterations int
}

// Agent is one autonomous audit agent.
type Agent struct {
	name     string
	role     string
	logger   *zap.Logger
	registry *tools.Registry
	packs    []knowledge.Pack
	trail    schemas.TrailSink
	gates    *workflow.Engine
	llm      schemas.LLMClient
	limiter  *rate.Limiter
	lookback int
	tier     schemas.ModelTier

	mu     sync.Mutex
	goal   string
	status schemas.GoalStatus
	memory []schemas.Message // append-only; windowing happens at prompt assembly
}

// New validates the wiring and constructs an idle agent.
func New(cfg Config, logger *zap.Logger) (*Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent requires a name")
	}
	if cfg.Registry == nil || cfg.Trail == nil || cfg.Gates == nil || cfg.LLM == nil {
		return nil, fmt.Errorf("agent %s: registry, trail, gates and llm client are all required", cfg.Name)
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	lookback := cfg.ContextLookback
	if lookback <= 0 {
		lookback = 30
	}
	tier := cfg.Tier
	if tier == "" {
		tier = schemas.TierPowerful
	}
	return &Agent{
		name:     cfg.Name,
		role:     cfg.Role,
		logger:   logger.Named("agent." + cfg.Name),
		registry: cfg.Registry,
		packs:    cfg.Knowledge,
		trail:    cfg.Trail,
		gates:    cfg.Gates,
		llm:      cfg.LLM,
		limiter:  limiter,
		lookback: lookback,
		tier:     tier,
		status:   schemas.GoalIdle,
	}, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// SetGoal assigns a new goal and resets the agent to working.
func (a *Agent) SetGoal(goal string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.goal = goal
	a.status = schemas.GoalWorking
}

// Status returns the agent's current goal status.
func (a *Agent) Status() schemas.GoalStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Memory returns a copy of the full, unwindowed memory.
func (a *Agent) Memory() []schemas.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]schemas.Message, len(a.memory))
	copy(out, a.memory)
	return out
}

// RunAutonomously drives the reasoning loop until the goal completes, the
// iteration budget runs out (status blocked, no extra trail entry), the
// context is cancelled (one cancelled entry), or the provider fails fatally.
func (a *Agent) RunAutonomously(ctx context.Context, maxIterations int) (RunResult, error) {
	a.mu.Lock()
	if a.goal == "" {
		a.mu.Unlock()
		return RunResult{Status: schemas.GoalIdle}, fmt.Errorf("agent %s has no goal", a.name)
	}
	a.status = schemas.GoalWorking
	a.mu.Unlock()

	a.logger.Info("Starting autonomous run", zap.Int("max_iterations", maxIterations))

	for i := 0; i < maxIterations; i++ {
		select {
		case <-ctx.Done():
			return a.cancelled(i), ctx.Err()
		default:
		}

		if err := a.limiter.Wait(ctx); err != nil {
			return a.cancelled(i), ctx.Err()
		}

		response, err := a.llm.Generate(ctx, schemas.GenerationRequest{
			SystemPrompt: a.systemPrompt(),
			UserPrompt:   a.userPrompt(),
			Tier:         a.tier,
			Options:      schemas.GenerationOptions{Temperature: 0.2, ForceJSONFormat: true},
		})
		if err != nil {
			if ctx.Err() != nil {
				return a.cancelled(i), ctx.Err()
			}
			return a.providerFailed(i, err), err
		}

		action, err := parseActionResponse(response)
		if err != nil {
			var perr *ReasoningProtocolError
			reason := err.Error()
			if errors.As(err, &perr) {
				reason = perr.Reason
			}
			a.trail.Append(schemas.TrailEntry{
				Agent:       a.name,
				Action:      schemas.TrailReasoningError,
				Description: fmt.Sprintf("model response violated the action protocol: %s", reason),
			})
			a.remember(schemas.RoleAssistant, response)
			a.remember(schemas.RoleUser, fmt.Sprintf(
				"Your last response was invalid: %s. Respond with a single JSON object matching the action protocol.", reason))
			continue
		}

		a.remember(schemas.RoleAssistant, response)

		if done := a.dispatch(ctx, action); done {
			return RunResult{Status: a.Status(), Iterations: i + 1}, nil
		}
	}

	a.mu.Lock()
	a.status = schemas.GoalBlocked
	a.mu.Unlock()
	a.logger.Warn("Iteration budget exhausted", zap.Int("iterations", maxIterations))
	return RunResult{Status: schemas.GoalBlocked, Iterations: maxIterations}, nil
}

// dispatch executes one parsed action. Returns true when the run is finished.
func (a *Agent) dispatch(ctx context.Context, action ActionRequest) bool {
	switch action.Action {
	case ActionDocument:
		a.trail.Append(schemas.TrailEntry{
			Agent:       a.name,
			Action:      schemas.TrailDocument,
			Description: action.Content,
			Rationale:   action.Rationale,
		})
		a.remember(schemas.RoleUser, "Documentation recorded in the audit trail.")
		return false

	case ActionGoalComplete:
		a.mu.Lock()
		a.status = schemas.GoalComplete
		a.mu.Unlock()
		meta := map[string]any{"summary": action.Summary}
		if action.NextSteps != "" {
			meta["next_steps"] = action.NextSteps
		}
		a.trail.Append(schemas.TrailEntry{
			Agent:       a.name,
			Action:      schemas.TrailGoalComplete,
			Description: fmt.Sprintf("goal complete: %s", action.Summary),
			Rationale:   action.Rationale,
			Metadata:    meta,
		})
		return true

	case ActionUseTool:
		a.useTool(ctx, action)
		return false
	}
	return false
}

func (a *Agent) useTool(ctx context.Context, action ActionRequest) {
	if err := a.registry.Validate(action.Tool, action.Params); err != nil {
		a.trail.Append(schemas.TrailEntry{
			Agent:       a.name,
			Action:      schemas.TrailToolError,
			Description: fmt.Sprintf("tool call rejected: %v", err),
			Metadata:    map[string]any{"tool": action.Tool},
		})
		a.remember(schemas.RoleUser, fmt.Sprintf("Tool call rejected: %v", err))
		return
	}

	tool, _ := a.registry.Get(action.Tool)
	if rule := tool.RequiredGate(); rule != "" {
		decision := a.gates.Authorize(workflow.Request{
			Rule:   rule,
			Agent:  a.name,
			Target: tools.StringParam(action.Params, "target"),
		})
		if !decision.Allowed {
			// The gate engine has written the rule-named blocked entry; only
			// the corrective memory message is added here.
			a.remember(schemas.RoleUser, fmt.Sprintf("Action denied by workflow gate: %s", decision.Reason))
			return
		}
	}

	result, err := a.registry.Execute(ctx, action.Tool, action.Params)
	if err != nil {
		a.trail.Append(schemas.TrailEntry{
			Agent:       a.name,
			Action:      schemas.TrailToolError,
			Description: fmt.Sprintf("tool %s failed: %v", action.Tool, err),
			Rationale:   action.Rationale,
			Metadata:    map[string]any{"tool": action.Tool},
		})
		a.remember(schemas.RoleUser, fmt.Sprintf("Tool %s failed: %v", action.Tool, err))
		return
	}

	description := fmt.Sprintf("used tool %s", action.Tool)
	meta := map[string]any{"tool": action.Tool, "params": action.Params}
	// Ledger tools report gate denials as values; mark the entry so trail
	// reviewers don't read the call as an effective operation.
	if m, ok := result.(map[string]any); ok {
		if blocked, _ := m["blocked"].(bool); blocked {
			description = fmt.Sprintf("tool %s call was blocked by a workflow gate", action.Tool)
			meta["blocked"] = true
			if reason, _ := m["reason"].(string); reason != "" {
				meta["reason"] = reason
			}
		}
	}
	a.trail.Append(schemas.TrailEntry{
		Agent:       a.name,
		Action:      schemas.TrailToolUse,
		Description: description,
		Rationale:   action.Rationale,
		Metadata:    meta,
	})
	a.remember(schemas.RoleUser, fmt.Sprintf("Tool %s result: %s", action.Tool, renderResult(result)))
}

func (a *Agent) cancelled(iterations int) RunResult {
	a.trail.Append(schemas.TrailEntry{
		Agent:       a.name,
		Action:      schemas.TrailCancelled,
		Description: "run cancelled before goal completion",
	})
	a.logger.Info("Run cancelled", zap.Int("iterations", iterations))
	return RunResult{Status: a.Status(), Iterations: iterations}
}

func (a *Agent) providerFailed(iterations int, err error) RunResult {
	a.mu.Lock()
	a.status = schemas.GoalBlocked
	a.mu.Unlock()
	a.trail.Append(schemas.TrailEntry{
		Agent:       a.name,
		Action:      schemas.TrailProviderError,
		Description: fmt.Sprintf("llm provider failure ended the run: %v", err),
	})
	a.logger.Error("Provider failure", zap.Error(err))
	return RunResult{Status: schemas.GoalBlocked, Iterations: iterations}
}

func (a *Agent) remember(role schemas.MessageRole, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memory = append(a.memory, schemas.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

func (a *Agent) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an autonomous audit agent", a.name)
	if a.role != "" {
		fmt.Fprintf(&b, " acting as %s", a.role)
	}
	b.WriteString(".\n\n")
	b.WriteString("Each turn, respond with exactly one JSON object choosing your next action:\n")
	b.WriteString(`  {"action": "use_tool", "tool": "<name>", "params": {...}, "rationale": "<why>"}` + "\n")
	b.WriteString(`  {"action": "document", "content": "<finding or note>", "rationale": "<why>"}` + "\n")
	b.WriteString(`  {"action": "goal_complete", "summary": "<what was accomplished>", "next_steps": "<recommended follow-ups, optional>"}` + "\n\n")
	b.WriteString("Available tools:\n")
	for _, tool := range a.registry.List() {
		fmt.Fprintf(&b, "- %s: %s", tool.Name(), tool.Description())
		if schema := tool.Schema(); len(schema) > 0 {
			b.WriteString(" Params:")
			for name, spec := range schema {
				required := ""
				if spec.Required {
					required = ", required"
				}
				fmt.Fprintf(&b, " %s (%s%s)", name, spec.Type, required)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (a *Agent) userPrompt() string {
	a.mu.Lock()
	goal := a.goal
	window := a.memory
	if len(window) > a.lookback {
		window = window[len(window)-a.lookback:]
	}
	window = append([]schemas.Message(nil), window...)
	a.mu.Unlock()

	var b strings.Builder
	for _, pack := range a.packs {
		fmt.Fprintf(&b, "## Knowledge: %s\n%s\n\n", pack.Name, pack.Content)
	}
	fmt.Fprintf(&b, "## Goal\n%s\n\n", goal)
	if len(window) > 0 {
		b.WriteString("## Recent history\n")
		for _, msg := range window {
			fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString("Decide your next action. Respond with a single JSON object.")
	return b.String()
}

// renderResult serializes a tool result for memory, truncated to keep the
// prompt bounded.
func renderResult(result any) string {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	s := string(data)
	if len(s) > maxToolResultChars {
		s = s[:maxToolResultChars] + "...(truncated)"
	}
	return s
}
