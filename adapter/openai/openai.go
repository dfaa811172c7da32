// Package openai adapts the OpenAI Chat Completions API to the headless
// coder contract.
//
// Runs stream completions, emitting every content chunk as a message delta.
// Conversation history lives in a session.Store and is replayed on each run.
// Structured output uses the native json_schema response format.
package openai

import (
	"context"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/internal/sdkcoder"
	"github.com/hupe1980/headlesscoder/session"
)

// CoderName is the registry name of the OpenAI adapter.
const CoderName core.CoderType = "openai"

// DefaultModel is used when StartOptions.Model is empty.
const DefaultModel = openai.ChatModelGPT4oMini

// APIKeyEnv is read when Options.APIKey is empty.
const APIKeyEnv = "OPENAI_API_KEY"

// Options configure the OpenAI adapter.
type Options struct {
	Name                core.CoderType
	Temperature         *float64
	MaxCompletionTokens int64
	APIKey              string
	BaseURL             string
	// Client is used as-is when set.
	Client *openai.Client
	// Store persists transcripts. Coders built by one Factory share it.
	Store session.Store
}

func defaultOptions() Options {
	return Options{Name: CoderName, MaxCompletionTokens: 4096}
}

// New builds an OpenAI coder with a private in-memory store.
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
		model = DefaultModel
	}
	return sdkcoder.New(sdkcoder.Config{
		Name:      o.Name,
		Model:     model,
		Store:     o.Store,
		Completer: &completer{client: o.Client, opts: o, model: model},
		Start:     start,
	})
}

func newClient(o Options) *openai.Client {
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
	client := openai.NewClient(clientOpts...)
	return &client
}

type completer struct {
	client *openai.Client
	opts   Options
	model  string
}

func (c *completer) Complete(ctx context.Context, call sdkcoder.Call, emit func(core.Event) bool) (sdkcoder.Reply, error) {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(call),
		Model:               c.model,
		MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
		StreamOptions:       openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)},
	}
	if c.opts.Temperature != nil {
		params.Temperature = openai.Float(*c.opts.Temperature)
	}
	if call.OutputSchema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "output",
					Schema: call.OutputSchema,
				},
			},
		}
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		text  strings.Builder
		usage *core.Usage
		model string
	)
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage.TotalTokens > 0 {
			usage = &core.Usage{
				InputTokens:       chunk.Usage.PromptTokens,
				CachedInputTokens: chunk.Usage.PromptTokensDetails.CachedTokens,
				OutputTokens:      chunk.Usage.CompletionTokens,
			}
		}
		for _, ch := range chunk.Choices {
			if ch.Delta.Content != "" {
				text.WriteString(ch.Delta.Content)
				if !emit(core.NewMessageEvent(ch.Delta.Content, true)) {
					return sdkcoder.Reply{}, ctx.Err()
				}
			}
			if ch.Delta.Refusal != "" {
				return sdkcoder.Reply{}, core.NewError(core.CodeBackend, "openai refused: %s", ch.Delta.Refusal)
			}
			if ch.FinishReason == "length" {
				if !emit(core.NewWarningEvent(core.CodeBackend, "response truncated by max tokens")) {
					return sdkcoder.Reply{}, ctx.Err()
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return sdkcoder.Reply{}, ctx.Err()
		}
		return sdkcoder.Reply{}, &core.Error{Code: core.CodeBackend, Message: "openai streaming error", Err: err}
	}

	return sdkcoder.Reply{Text: text.String(), Usage: usage, Model: model}, nil
}

// buildMessages converts a call into chat messages, system first.
func buildMessages(call sdkcoder.Call) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if call.System != "" {
		messages = append(messages, openai.SystemMessage(call.System))
	}
	for _, m := range call.Messages {
		switch m.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case core.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}
