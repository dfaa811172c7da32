// Package anthropic adapts the Anthropic Messages API to the headless coder
// contract.
//
// The API is stateless, so conversation history is kept in a session.Store
// and replayed on every run. Each run is one synchronous Messages.New call;
// there is no native interrupt, cancellation aborts the HTTP request through
// the run context. Structured output is requested through prompt
// instructions and validated by the thread.
package anthropic

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/internal/sdkcoder"
	"github.com/hupe1980/headlesscoder/session"
	"github.com/hupe1980/headlesscoder/structured"
)

// CoderName is the registry name of the Anthropic adapter.
const CoderName core.CoderType = "anthropic"

// DefaultModel is used when StartOptions.Model is empty.
const DefaultModel = anthropic.ModelClaudeSonnet4_20250514

// APIKeyEnv is read when Options.APIKey is empty.
const APIKeyEnv = "ANTHROPIC_API_KEY"

// Options configures the Anthropic adapter (model defaults, max tokens,
// credentials, transcript store).
type Options struct {
	Name        core.CoderType
	MaxTokens   int64
	Temperature *float64
	APIKey      string
	// BaseURL overrides the API endpoint.
	BaseURL string
	// Client is used as-is when set; APIKey and BaseURL are then ignored.
	Client *anthropic.Client
	// Store persists transcripts. Coders built by one Factory share it.
	Store session.Store
}

func defaultOptions() Options {
	return Options{Name: CoderName, MaxTokens: 4096}
}

// New builds an Anthropic coder with a private in-memory store.
func New(start core.StartOptions) (core.HeadlessCoder, error) {
	return newCoder(defaultOptions(), start), nil
}

// Factory returns an AdapterFactory whose coders share one client and one
// transcript store.
func Factory(optFns ...func(o *Options)) core.AdapterFactory {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	if o.Store == nil {
		o.Store = session.NewInMemoryStore()
	}
	if o.Client == nil {
		o.Client = newClient(o)
	}

	return core.NewFactory(o.Name, func(start core.StartOptions) (core.HeadlessCoder, error) {
		return newCoder(o, start), nil
	})
}

func newCoder(o Options, start core.StartOptions) *sdkcoder.Coder {
	if o.Client == nil {
		o.Client = newClient(o)
	}
	model := start.Model
	if model == "" {
		model = string(DefaultModel)
	}
	return sdkcoder.New(sdkcoder.Config{
		Name:      o.Name,
		Model:     model,
		Store:     o.Store,
		Completer: &completer{client: o.Client, opts: o, model: model},
		Start:     start,
	})
}

func newClient(o Options) *anthropic.Client {
	var clientOpts []option.RequestOption
	key := o.APIKey
	if key == "" {
		key = os.Getenv(APIKeyEnv)
	}
	if key != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(key))
	}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(o.BaseURL))
	}
	client := anthropic.NewClient(clientOpts...)
	return &client
}

type completer struct {
	client *anthropic.Client
	opts   Options
	model  string
}

func (c *completer) Complete(ctx context.Context, call sdkcoder.Call, emit func(core.Event) bool) (sdkcoder.Reply, error) {
	prompt := call.Messages
	if call.OutputSchema != nil {
		prompt = structured.WithInstructions(prompt, call.OutputSchema)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  buildMessages(prompt),
		MaxTokens: c.opts.MaxTokens,
	}
	if c.opts.Temperature != nil {
		params.Temperature = anthropic.Float(*c.opts.Temperature)
	}
	if call.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: call.System}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return sdkcoder.Reply{}, ctx.Err()
		}
		return sdkcoder.Reply{}, &core.Error{Code: core.CodeBackend, Message: "anthropic api error", Err: err}
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			text.WriteString(block.Text)
			if !emit(core.NewMessageEvent(block.Text, false)) {
				return sdkcoder.Reply{}, ctx.Err()
			}
		case "thinking":
			if block.Thinking != "" && !emit(core.NewProgressEvent("thinking", block.Thinking)) {
				return sdkcoder.Reply{}, ctx.Err()
			}
		}
	}

	if resp.StopReason == anthropic.StopReasonMaxTokens {
		w := core.NewWarningEvent(core.CodeBackend, fmt.Sprintf("response truncated at %d tokens", c.opts.MaxTokens))
		if !emit(w) {
			return sdkcoder.Reply{}, ctx.Err()
		}
	}

	return sdkcoder.Reply{
		Text: text.String(),
		Usage: &core.Usage{
			InputTokens:       resp.Usage.InputTokens,
			CachedInputTokens: resp.Usage.CacheReadInputTokens,
			OutputTokens:      resp.Usage.OutputTokens,
		},
		Model: string(resp.Model),
	}, nil
}

// buildMessages converts a prompt to Anthropic messages. Consecutive
// messages of the same role are merged since the API requires alternation.
func buildMessages(prompt core.Prompt) []anthropic.MessageParam {
	var (
		messages []anthropic.MessageParam
		lastRole core.Role
	)
	for _, m := range prompt {
		if m.Content == "" || m.Role == core.RoleSystem {
			continue
		}
		role := m.Role
		if role != core.RoleAssistant {
			role = core.RoleUser
		}

		block := anthropic.NewTextBlock(m.Content)
		if role == lastRole && len(messages) > 0 {
			last := &messages[len(messages)-1]
			last.Content = append(last.Content, block)
			continue
		}

		if role == core.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
		lastRole = role
	}
	return messages
}
