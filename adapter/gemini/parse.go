package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/thread"
)

// record is one line of `gemini --output-format stream-json` output.
type record struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`

	// message
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	Delta   bool   `json:"delta,omitempty"`

	// tool_use / tool_result
	ToolName   string          `json:"tool_name,omitempty"`
	ToolID     string          `json:"tool_id,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Status     string          `json:"status,omitempty"`
	Output     string          `json:"output,omitempty"`

	// error / result
	Severity string       `json:"severity,omitempty"`
	Message  string       `json:"message,omitempty"`
	Error    *resultError `json:"error,omitempty"`
	Stats    *stats       `json:"stats,omitempty"`
}

type resultError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

type stats struct {
	InputTokens  int64 `json:"input_tokens"`
	Cached       int64 `json:"cached"`
	OutputTokens int64 `json:"output_tokens"`
}

// parser holds the state of one gemini run.
type parser struct {
	names   map[string]string
	done    bool
	failure string
	text    []byte
	partial bool
}

func (p *parser) Parse(line []byte) ([]core.Event, error) {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, fmt.Errorf("gemini: decode record: %w", err)
	}

	switch rec.Type {
	case "init":
		return []core.Event{core.NewInitEvent(rec.SessionID, rec.Model)}, nil
	case "message":
		if rec.Role != "assistant" || rec.Content == "" {
			return nil, nil
		}
		p.partial = p.partial || rec.Delta
		p.text = append(p.text, rec.Content...)
		return []core.Event{core.NewMessageEvent(rec.Content, rec.Delta)}, nil
	case "tool_use":
		if p.names == nil {
			p.names = make(map[string]string)
		}
		p.names[rec.ToolID] = rec.ToolName
		return []core.Event{core.NewToolUseEvent(rec.ToolName, rec.ToolID, rec.Parameters)}, nil
	case "tool_result":
		return []core.Event{p.toolResult(rec)}, nil
	case "error":
		if rec.Severity == "warning" {
			return []core.Event{core.NewWarningEvent(core.CodeBackend, rec.Message)}, nil
		}
		p.failure = rec.Message
		return []core.Event{core.NewErrorEvent(core.NewError(core.CodeBackend, "gemini: %s", rec.Message))}, nil
	case "result":
		p.done = true
		var events []core.Event
		if s := rec.Stats; s != nil {
			events = append(events, core.NewUsageEvent(core.Usage{
				InputTokens:       s.InputTokens,
				CachedInputTokens: s.Cached,
				OutputTokens:      s.OutputTokens,
			}))
		}
		if rec.Status == "error" {
			msg := "run failed"
			if rec.Error != nil && rec.Error.Message != "" {
				msg = rec.Error.Message
			}
			p.failure = msg
			events = append(events, core.NewErrorEvent(core.NewError(core.CodeBackend, "gemini: %s", msg)))
		}
		return events, nil
	default:
		return nil, nil
	}
}

func (p *parser) toolResult(rec record) core.Event {
	var (
		result json.RawMessage
		exit   *int
	)
	if rec.Status == "error" {
		one := 1
		exit = &one
		msg := rec.Output
		if rec.Error != nil {
			msg = rec.Error.Message
		}
		result, _ = json.Marshal(map[string]string{"error": msg})
	} else {
		result, _ = json.Marshal(rec.Output)
	}
	return core.NewToolResultEvent(p.names[rec.ToolID], rec.ToolID, result, exit)
}

func (p *parser) Finish() (thread.Outcome, error) {
	if p.failure != "" {
		return thread.Outcome{}, core.NewError(core.CodeBackend, "gemini: %s", p.failure)
	}
	if !p.done {
		return thread.Outcome{}, core.NewError(core.CodeBackend, "gemini: stream ended without a result record")
	}
	if p.partial {
		return thread.Outcome{}, nil
	}
	return thread.Outcome{Text: string(p.text)}, nil
}
