package claude

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/thread"
)

// record is one line of `claude -p --output-format stream-json` output.
type record struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// system/init
	Model string `json:"model,omitempty"`

	// assistant / user
	Message *message `json:"message,omitempty"`

	// stream_event
	Event *streamEvent `json:"event,omitempty"`

	// result
	IsError           bool             `json:"is_error,omitempty"`
	Result            string           `json:"result,omitempty"`
	Usage             *usage           `json:"usage,omitempty"`
	PermissionDenials []permissionDeny `json:"permission_denials,omitempty"`
	Errors            []string         `json:"errors,omitempty"`
}

type message struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`

	// text / thinking
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
}

type usage struct {
	InputTokens          int64 `json:"input_tokens"`
	CacheReadInputTokens int64 `json:"cache_read_input_tokens"`
	OutputTokens         int64 `json:"output_tokens"`
}

type permissionDeny struct {
	ToolName  string          `json:"tool_name"`
	ToolUseID string          `json:"tool_use_id"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

// parser holds the state of one claude run.
type parser struct {
	sawInit  bool
	result   *record
	lastText string
	names    map[string]string
}

func (p *parser) Parse(line []byte) ([]core.Event, error) {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, fmt.Errorf("claude: decode record: %w", err)
	}

	switch rec.Type {
	case "system":
		if rec.Subtype != "init" || p.sawInit {
			return nil, nil
		}
		p.sawInit = true
		return []core.Event{core.NewInitEvent(rec.SessionID, rec.Model)}, nil
	case "stream_event":
		if rec.Event == nil || rec.Event.Type != "content_block_delta" || rec.Event.Delta == nil {
			return nil, nil
		}
		if rec.Event.Delta.Type != "text_delta" || rec.Event.Delta.Text == "" {
			return nil, nil
		}
		return []core.Event{core.NewMessageEvent(rec.Event.Delta.Text, true)}, nil
	case "assistant":
		return p.assistantEvents(rec.Message), nil
	case "user":
		return p.toolResults(rec.Message), nil
	case "result":
		p.result = &rec
		return p.resultEvents(&rec), nil
	default:
		return nil, nil
	}
}

func (p *parser) assistantEvents(msg *message) []core.Event {
	if msg == nil {
		return nil
	}

	var events []core.Event
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			p.lastText = block.Text
			events = append(events, core.NewMessageEvent(block.Text, false))
		case "thinking":
			if block.Thinking != "" {
				events = append(events, core.NewProgressEvent("thinking", block.Thinking))
			}
		case "tool_use":
			if p.names == nil {
				p.names = make(map[string]string)
			}
			p.names[block.ID] = block.Name
			events = append(events, core.NewToolUseEvent(block.Name, block.ID, block.Input))
			if ev, ok := todoEvent(block); ok {
				events = append(events, ev)
			}
		}
	}
	return events
}

// todoEvent maps the TodoWrite tool to a plan_update.
func todoEvent(block contentBlock) (core.Event, bool) {
	if block.Name != "TodoWrite" {
		return core.Event{}, false
	}
	var in struct {
		Todos json.RawMessage `json:"todos"`
	}
	if err := json.Unmarshal(block.Input, &in); err != nil || len(in.Todos) == 0 {
		return core.Event{}, false
	}
	ev := core.NewEvent(core.EventPlanUpdate)
	ev.Label = "todo_list"
	ev.Result = in.Todos
	return ev, true
}

func (p *parser) toolResults(msg *message) []core.Event {
	if msg == nil {
		return nil
	}

	var events []core.Event
	for _, block := range msg.Content {
		if block.Type != "tool_result" {
			continue
		}
		var exit *int
		if block.IsError {
			one := 1
			exit = &one
		}
		events = append(events, core.NewToolResultEvent(p.names[block.ToolUseID], block.ToolUseID, block.Content, exit))
	}
	return events
}

func (p *parser) resultEvents(rec *record) []core.Event {
	var events []core.Event
	for _, d := range rec.PermissionDenials {
		ev := core.NewEvent(core.EventPermission)
		ev.ToolName = d.ToolName
		ev.CallID = d.ToolUseID
		ev.Args = d.ToolInput
		ev.Label = "denied"
		events = append(events, ev)
	}
	if u := rec.Usage; u != nil {
		events = append(events, core.NewUsageEvent(core.Usage{
			InputTokens:       u.InputTokens,
			CachedInputTokens: u.CacheReadInputTokens,
			OutputTokens:      u.OutputTokens,
		}))
	}
	if rec.IsError || strings.HasPrefix(rec.Subtype, "error") {
		events = append(events, core.NewErrorEvent(p.resultError(rec)))
	}
	return events
}

func (p *parser) resultError(rec *record) error {
	msg := rec.Result
	if msg == "" && len(rec.Errors) > 0 {
		msg = strings.Join(rec.Errors, "; ")
	}
	if msg == "" {
		msg = rec.Subtype
	}
	return core.NewError(core.CodeBackend, "claude: %s", msg)
}

func (p *parser) Finish() (thread.Outcome, error) {
	if p.result == nil {
		return thread.Outcome{}, core.NewError(core.CodeBackend, "claude: stream ended without a result record")
	}
	if p.result.IsError || strings.HasPrefix(p.result.Subtype, "error") {
		return thread.Outcome{}, p.resultError(p.result)
	}
	text := p.result.Result
	if text == "" {
		text = p.lastText
	}
	return thread.Outcome{Text: text}, nil
}
