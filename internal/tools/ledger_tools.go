package tools

import (
	"context"

	"github.com/fieldworkhq/fieldwork/api/schemas"
	"github.com/fieldworkhq/fieldwork/internal/ledger"
)

// Ledger-backed delegation tools. These carry no RequiredGate: the ledger
// performs its own gate checks and reports blocked outcomes as values, so a
// denial produces exactly one blocked trail entry (written by the gate
// engine) instead of two.

// NewAssignTaskTool delegates work from the calling agent to another agent.
func NewAssignTaskTool(agent string, l *ledger.Ledger) Tool {
	return &funcTool{
		name: "assign_task",
		desc: "Assign a task to another agent. Requires the plan-approval phase to be approved.",
		schema: ParamSchema{
			"assignee":    {Type: "string", Required: true, Description: "Agent receiving the task."},
			"description": {Type: "string", Required: true, Description: "What needs to be done."},
			"priority":    {Type: "string", Description: "high, medium or low. Defaults to medium."},
		},
		effect: Mutating,
		run: func(_ context.Context, params map[string]any) (any, error) {
			res := l.AssignTask(
				agent,
				StringParam(params, "assignee"),
				StringParam(params, "description"),
				schemas.TaskPriority(StringParam(params, "priority")),
				nil,
			)
			if res.Blocked {
				return map[string]any{"blocked": true, "reason": res.Reason}, nil
			}
			return map[string]any{"task_id": res.Task.ID, "status": string(res.Task.Status)}, nil
		},
	}
}

// NewAcceptTaskTool accepts a pending task assigned to the calling agent.
func NewAcceptTaskTool(agent string, l *ledger.Ledger) Tool {
	return &funcTool{
		name: "accept_task",
		desc: "Accept a task assigned to you, moving it to in_progress.",
		schema: ParamSchema{
			"task_id": {Type: "string", Required: true, Description: "ID of the task to accept."},
		},
		effect: Mutating,
		run: func(_ context.Context, params map[string]any) (any, error) {
			res, err := l.AcceptTask(agent, StringParam(params, "task_id"))
			if err != nil {
				return nil, err
			}
			if res.Blocked {
				return map[string]any{"blocked": true, "reason": res.Reason}, nil
			}
			return map[string]any{"task_id": res.Task.ID, "status": string(res.Task.Status)}, nil
		},
	}
}

// NewCompleteTaskTool completes a task owned by the calling agent.
func NewCompleteTaskTool(agent string, l *ledger.Ledger) Tool {
	return &funcTool{
		name: "complete_task",
		desc: "Mark one of your tasks complete.",
		schema: ParamSchema{
			"task_id": {Type: "string", Required: true, Description: "ID of the task to complete."},
		},
		effect: Mutating,
		run: func(_ context.Context, params map[string]any) (any, error) {
			task, err := l.CompleteTask(agent, StringParam(params, "task_id"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"task_id": task.ID, "status": string(task.Status)}, nil
		},
	}
}

// NewListTasksTool returns the calling agent's partitioned task view.
func NewListTasksTool(agent string, l *ledger.Ledger) Tool {
	return &funcTool{
		name:   "list_tasks",
		desc:   "List your current, completed and delegated tasks.",
		schema: ParamSchema{},
		effect: ReadOnly,
		run: func(_ context.Context, _ map[string]any) (any, error) {
			return l.ListTasks(agent), nil
		},
	}
}
