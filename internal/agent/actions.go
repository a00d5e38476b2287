package agent

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// ActionType is the discriminator of the reasoning protocol's tagged union.
type ActionType string

const (
	ActionUseTool      ActionType = "use_tool"
	ActionDocument     ActionType = "document"
	ActionGoalComplete ActionType = "goal_complete"
)

// ActionRequest is the single JSON object the model must answer with each
// iteration. Which fields are required depends on the action type.
type ActionRequest struct {
	Action    ActionType     `json:"action"`
	Tool      string         `json:"tool,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Content   string         `json:"content,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	NextSteps string         `json:"next_steps,omitempty"`
	Rationale string         `json:"rationale,omitempty"`
}

// A regex to robustly extract a JSON object from a markdown code block.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// parseActionResponse extracts and strictly validates the model's action.
// The parse is unforgiving on structure: a missing discriminator or a
// use_tool without a tool name is a protocol error the loop feeds back as a
// corrective message, never a guess.
func parseActionResponse(response string) (ActionRequest, error) {
	response = strings.TrimSpace(response)
	var jsonStringToParse string

	matches := jsonBlockRegex.FindStringSubmatch(response)
	if len(matches) > 1 {
		jsonStringToParse = strings.TrimSpace(matches[1])
	} else {
		// No fence: fall back to the outermost braces.
		start := strings.Index(response, "{")
		end := strings.LastIndex(response, "}")
		if start != -1 && end > start {
			jsonStringToParse = response[start : end+1]
		}
	}

	if jsonStringToParse == "" {
		return ActionRequest{}, &ReasoningProtocolError{Raw: response, Reason: "no JSON object found in response"}
	}

	var action ActionRequest
	if err := json.Unmarshal([]byte(jsonStringToParse), &action); err != nil {
		return ActionRequest{}, &ReasoningProtocolError{Raw: response, Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}

	switch action.Action {
	case ActionUseTool:
		if action.Tool == "" {
			return ActionRequest{}, &ReasoningProtocolError{Raw: response, Reason: "use_tool action missing 'tool' field"}
		}
		if action.Params == nil {
			action.Params = map[string]any{}
		}
	case ActionDocument:
		if action.Content == "" {
			return ActionRequest{}, &ReasoningProtocolError{Raw: response, Reason: "document action missing 'content' field"}
		}
	case ActionGoalComplete:
		// The summary stands in for the rationale on this variant.
		if action.Summary == "" {
			return ActionRequest{}, &ReasoningProtocolError{Raw: response, Reason: "goal_complete action missing 'summary' field"}
		}
		return action, nil
	case "":
		return ActionRequest{}, &ReasoningProtocolError{Raw: response, Reason: "missing 'action' discriminator"}
	default:
		return ActionRequest{}, &ReasoningProtocolError{Raw: response, Reason: fmt.Sprintf("unknown action type %q", action.Action)}
	}

	if action.Rationale == "" {
		return ActionRequest{}, &ReasoningProtocolError{Raw: response, Reason: "missing 'rationale' field"}
	}
	return action, nil
}
