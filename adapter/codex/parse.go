package codex

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/thread"
)

// record is one line of `codex exec --json` output.
type record struct {
	Type     string          `json:"type"`
	ThreadID string          `json:"thread_id,omitempty"`
	Item     json.RawMessage `json:"item,omitempty"`
	Usage    *turnUsage      `json:"usage,omitempty"`
	Error    *recordError    `json:"error,omitempty"`
	Message  string          `json:"message,omitempty"`
}

type turnUsage struct {
	InputTokens       int64 `json:"input_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
}

type recordError struct {
	Message string `json:"message"`
}

// item is the payload of item.started / item.updated / item.completed.
type item struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// agent_message, reasoning
	Text string `json:"text,omitempty"`

	// command_execution
	Command          string `json:"command,omitempty"`
	AggregatedOutput string `json:"aggregated_output,omitempty"`
	ExitCode         *int   `json:"exit_code,omitempty"`
	Status           string `json:"status,omitempty"`

	// file_change
	Changes []fileChange `json:"changes,omitempty"`

	// mcp_tool_call
	Server    string          `json:"server,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	ErrorInfo *recordError    `json:"error,omitempty"`

	// web_search
	Query string `json:"query,omitempty"`

	// todo_list
	Items []todoItem `json:"items,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

type fileChange struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

type todoItem struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// parser holds the state of one codex run.
type parser struct {
	completed bool
	failure   string
	lastError string
	usage     *core.Usage
}

func (p *parser) Parse(line []byte) ([]core.Event, error) {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, fmt.Errorf("codex: decode record: %w", err)
	}

	switch rec.Type {
	case "thread.started":
		if rec.ThreadID == "" {
			return nil, nil
		}
		return []core.Event{core.NewInitEvent(rec.ThreadID, "")}, nil
	case "turn.started":
		return nil, nil
	case "turn.completed":
		p.completed = true
		if rec.Usage == nil {
			return nil, nil
		}
		u := core.Usage{
			InputTokens:       rec.Usage.InputTokens,
			CachedInputTokens: rec.Usage.CachedInputTokens,
			OutputTokens:      rec.Usage.OutputTokens,
		}
		p.usage = &u
		return []core.Event{core.NewUsageEvent(u)}, nil
	case "turn.failed":
		msg := "turn failed"
		if rec.Error != nil && rec.Error.Message != "" {
			msg = rec.Error.Message
		}
		p.failure = msg
		return []core.Event{core.NewErrorEvent(core.NewError(core.CodeBackend, "codex: %s", msg))}, nil
	case "error":
		// Stream errors (e.g. reconnect notices) precede turn.failed when
		// they are fatal.
		p.lastError = rec.Message
		return []core.Event{core.NewWarningEvent(core.CodeBackend, rec.Message)}, nil
	case "item.started", "item.updated", "item.completed":
		var it item
		if err := json.Unmarshal(rec.Item, &it); err != nil {
			return nil, fmt.Errorf("codex: decode item: %w", err)
		}
		return itemEvents(rec.Type, it), nil
	default:
		return nil, nil
	}
}

func itemEvents(phase string, it item) []core.Event {
	started := phase == "item.started"
	completed := phase == "item.completed"

	switch it.Type {
	case "agent_message":
		if !completed {
			return nil
		}
		return []core.Event{core.NewMessageEvent(it.Text, false)}
	case "reasoning":
		if !completed || it.Text == "" {
			return nil
		}
		return []core.Event{core.NewProgressEvent("reasoning", it.Text)}
	case "command_execution":
		args, _ := json.Marshal(map[string]string{"command": it.Command})
		switch {
		case started:
			return []core.Event{core.NewToolUseEvent("shell", it.ID, args)}
		case completed:
			out, _ := json.Marshal(it.AggregatedOutput)
			return []core.Event{core.NewToolResultEvent("shell", it.ID, out, it.ExitCode)}
		}
	case "mcp_tool_call":
		name := it.Tool
		if it.Server != "" {
			name = it.Server + "." + it.Tool
		}
		switch {
		case started:
			return []core.Event{core.NewToolUseEvent(name, it.ID, it.Arguments)}
		case completed:
			result := it.Result
			if it.ErrorInfo != nil && it.ErrorInfo.Message != "" {
				result, _ = json.Marshal(map[string]string{"error": it.ErrorInfo.Message})
			}
			return []core.Event{core.NewToolResultEvent(name, it.ID, result, nil)}
		}
	case "web_search":
		if !started {
			return nil
		}
		args, _ := json.Marshal(map[string]string{"query": it.Query})
		return []core.Event{core.NewToolUseEvent("web_search", it.ID, args)}
	case "file_change":
		if !completed {
			return nil
		}
		events := make([]core.Event, 0, len(it.Changes))
		for _, c := range it.Changes {
			ev := core.NewEvent(core.EventFileChange)
			ev.Path = c.Path
			ev.Op = c.Kind
			events = append(events, ev)
		}
		return events
	case "todo_list":
		var b []byte
		b, _ = json.Marshal(it.Items)
		ev := core.NewEvent(core.EventPlanUpdate)
		ev.Label = "todo_list"
		ev.Result = b
		return []core.Event{ev}
	case "error":
		if !completed {
			return nil
		}
		return []core.Event{core.NewWarningEvent(core.CodeBackend, it.Message)}
	}
	return nil
}

func (p *parser) Finish() (thread.Outcome, error) {
	if p.failure != "" {
		return thread.Outcome{}, core.NewError(core.CodeBackend, "codex: %s", p.failure)
	}
	if !p.completed {
		msg := "stream ended before turn.completed"
		if p.lastError != "" {
			msg = p.lastError
		}
		return thread.Outcome{}, core.NewError(core.CodeBackend, "codex: %s", msg)
	}
	return thread.Outcome{Usage: p.usage}, nil
}
