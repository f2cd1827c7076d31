// Package router classifies incoming requests into a pipeline shape. The
// classifier is pure: the same request always routes the same way, which
// keeps routing decisions testable and reproducible from logs.
package router

import (
	"strings"

	"github.com/fyrsmithlabs/agentd/internal/request"
)

// Shape names the pipeline variant a request runs through.
type Shape string

const (
	// ShapeSimple answers directly from the model with no context
	// gathering and no tools.
	ShapeSimple Shape = "simple"

	// ShapeContextHeavy gathers and optimizes context before the model
	// call.
	ShapeContextHeavy Shape = "context_heavy"

	// ShapeToolExecuting allows tool rounds between model calls.
	ShapeToolExecuting Shape = "tool_executing"

	// ShapeComplex combines context gathering with tool execution.
	ShapeComplex Shape = "complex"

	// ShapeStreaming streams the model response token by token.
	ShapeStreaming Shape = "streaming"
)

// complexityOverride is the score at or above which any request is routed
// through the complex shape regardless of its declared type.
const complexityOverride = 0.7

// toolMarkers are payload phrasings that signal the request wants actions
// taken, not just an answer.
var toolMarkers = []string{
	"run ", "execute ", "install ", "create file", "write file",
	"delete ", "deploy ", "git ", "open pr", "apply the",
}

// contextMarkers signal the request leans on prior conversation or
// workspace state.
var contextMarkers = []string{
	"earlier", "previous", "last time", "again", "the file",
	"this repo", "that function", "we discussed", "as before",
	"continue", "remember",
}

// Decision is the routing outcome for one request.
type Decision struct {
	Shape      Shape   `json:"shape"`
	Complexity float64 `json:"complexity"`
	Reason     string  `json:"reason"`
}

// Classify routes req to a pipeline shape.
//
// The declared request type picks the base shape; the payload-derived
// complexity score can only escalate the decision, never simplify it.
func Classify(req *request.ProcessingRequest) Decision {
	payload := strings.ToLower(req.Payload)
	score := complexity(req, payload)

	var d Decision
	switch req.Type {
	case "chat":
		d = Decision{Shape: ShapeSimple, Reason: "chat request"}
		if req.ConversationID != "" || hasAny(payload, contextMarkers) {
			d = Decision{Shape: ShapeContextHeavy, Reason: "chat with conversation context"}
		}
	case "task":
		d = Decision{Shape: ShapeToolExecuting, Reason: "task request"}
		if hasAny(payload, contextMarkers) || req.Workspace != "" {
			d = Decision{Shape: ShapeComplex, Reason: "task needing workspace context"}
		}
	case "stream":
		d = Decision{Shape: ShapeStreaming, Reason: "streaming requested"}
	default:
		d = Decision{Shape: ShapeSimple, Reason: "unrecognized type defaults to simple"}
	}

	if score >= complexityOverride && d.Shape != ShapeStreaming && d.Shape != ShapeComplex {
		d = Decision{Shape: ShapeComplex, Reason: "complexity override"}
	}
	d.Complexity = score
	return d
}

// complexity estimates how demanding a request is, 0.0 to 1.0. Length,
// tool markers, context markers, and an attached workspace each add
// weight.
func complexity(req *request.ProcessingRequest, payload string) float64 {
	score := 0.0

	words := len(strings.Fields(payload))
	switch {
	case words > 200:
		score += 0.3
	case words > 50:
		score += 0.2
	case words > 15:
		score += 0.1
	}

	if n := countAny(payload, toolMarkers); n > 0 {
		score += 0.2
		if n > 1 {
			score += 0.1
		}
	}
	if hasAny(payload, contextMarkers) {
		score += 0.2
	}
	if req.Workspace != "" {
		score += 0.2
	}
	if strings.Count(payload, "\n") > 5 {
		score += 0.1
	}

	if score > 1 {
		score = 1
	}
	return score
}

func hasAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func countAny(s string, markers []string) int {
	n := 0
	for _, m := range markers {
		if strings.Contains(s, m) {
			n++
		}
	}
	return n
}

// NeedsContext reports whether the shape includes a context gathering
// stage.
func (s Shape) NeedsContext() bool {
	return s == ShapeContextHeavy || s == ShapeComplex
}

// AllowsTools reports whether the shape may execute tools.
func (s Shape) AllowsTools() bool {
	return s == ShapeToolExecuting || s == ShapeComplex
}
