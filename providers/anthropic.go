package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic implements the Provider interface for the Claude Messages API
// via the official SDK.
//
// Claude reports cache traffic outside input_tokens; normalization folds
// cache reads back into PromptTokens so the same accounting identity holds
// for every provider: PromptTokens = uncached prompt + CacheReadTokens.
type Anthropic struct {
	Base
	client sdk.Client
}

// defaultAnthropicMaxTokens caps the completion when the request does not:
// the Messages API requires an explicit max_tokens.
const defaultAnthropicMaxTokens = 1024

// NewAnthropic creates an Anthropic provider. Pass "" for baseURL to use the
// default endpoint.
func NewAnthropic(apiKey, baseURL string) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	resolvedBase := "https://api.anthropic.com"
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
		resolvedBase = baseURL
	}
	return &Anthropic{
		Base:   Base{name: "anthropic", apiKey: apiKey, baseURL: resolvedBase},
		client: sdk.NewClient(opts...),
	}
}

// Supports consults the capability lookup; without one, Claude 3+ models get
// vision, tools, and prompt caching.
func (p *Anthropic) Supports(model, capability string) bool {
	fallback := false
	switch capability {
	case CapTools, CapVision, CapPromptCache:
		fallback = strings.HasPrefix(model, "claude-")
	}
	return p.supports(model, capability, fallback)
}

func (p *Anthropic) mapAnthropicError(model string, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		header := make(map[string][]string)
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return MapWireError(p.name, model, apiErr.StatusCode, header, apiErr.Error())
	}
	return MapTransportError(p.name, model, err)
}

// buildAnthropicParams translates the normalized request. System messages
// become system blocks; CacheHint marks a block with the ephemeral cache
// directive.
func buildAnthropicParams(req Request) sdk.MessageNewParams {
	maxTokens := defaultAnthropicMaxTokens
	if req.MaxOutputTokens != nil {
		maxTokens = *req.MaxOutputTokens
	}

	var system []sdk.TextBlockParam
	var msgs []sdk.MessageParam
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			block := sdk.TextBlockParam{Text: m.Content}
			if m.CacheHint {
				block.CacheControl = sdk.NewCacheControlEphemeralParam()
			}
			system = append(system, block)
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.Images))
		if m.Content != "" {
			text := sdk.TextBlockParam{Text: m.Content}
			if m.CacheHint {
				text.CacheControl = sdk.NewCacheControlEphemeralParam()
			}
			blocks = append(blocks, sdk.ContentBlockParamUnion{OfText: &text})
		}
		for _, img := range m.Images {
			blocks = append(blocks, sdk.NewImageBlockBase64(img.MIME, img.Data))
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == RoleAssistant {
			msgs = append(msgs, sdk.NewAssistantMessage(blocks...))
		} else {
			msgs = append(msgs, sdk.NewUserMessage(blocks...))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = sdk.Float(*req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	if len(req.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema := sdk.ToolInputSchemaParam{}
			if len(t.Parameters) > 0 {
				var m map[string]any
				if err := json.Unmarshal(t.Parameters, &m); err == nil {
					schema.ExtraFields = m
				}
			}
			u := sdk.ToolUnionParamOfTool(schema, t.Name)
			if u.OfTool != nil && t.Description != "" {
				u.OfTool.Description = sdk.String(t.Description)
			}
			tools = append(tools, u)
		}
		params.Tools = tools
	}
	return params
}

func normalizeAnthropicUsage(u sdk.Usage) Usage {
	return Usage{
		PromptTokens:     int(u.InputTokens + u.CacheReadInputTokens),
		CompletionTokens: int(u.OutputTokens),
		CacheReadTokens:  int(u.CacheReadInputTokens),
		CacheWriteTokens: int(u.CacheCreationInputTokens),
	}
}

func normalizeAnthropicFinish(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return FinishStop
	case "max_tokens":
		return FinishLength
	case "tool_use":
		return FinishToolUse
	}
	return reason
}

// Complete sends a Messages API request and returns the full response.
func (p *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	msg, err := p.client.Messages.New(ctx, buildAnthropicParams(req))
	if err != nil {
		return nil, p.mapAnthropicError(req.Model, err)
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return &Response{
		ID:           msg.ID,
		Content:      content.String(),
		Model:        string(msg.Model),
		Provider:     p.name,
		Usage:        normalizeAnthropicUsage(msg.Usage),
		FinishReason: normalizeAnthropicFinish(string(msg.StopReason)),
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Stream sends a streaming Messages API request. Events are accumulated so
// the final chunk carries the authoritative usage and finish reason.
func (p *Anthropic) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	stream := p.client.Messages.NewStreaming(ctx, buildAnthropicParams(req))
	if err := stream.Err(); err != nil {
		return nil, p.mapAnthropicError(req.Model, err)
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		message := sdk.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				ch <- StreamChunk{
					Model: req.Model, Provider: p.name,
					Err: WrapErr(CodeProviderProtocol, p.name, req.Model, err),
				}
				return
			}
			switch variant := event.AsAny().(type) {
			case sdk.ContentBlockDeltaEvent:
				if delta, ok := variant.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" {
					select {
					case ch <- StreamChunk{Delta: delta.Text, Model: req.Model, Provider: p.name}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- StreamChunk{
				Model: req.Model, Provider: p.name,
				Err: p.mapAnthropicError(req.Model, err),
			}
			return
		}

		usage := normalizeAnthropicUsage(message.Usage)
		model := string(message.Model)
		if model == "" {
			model = req.Model
		}
		select {
		case ch <- StreamChunk{
			Model: model, Provider: p.name,
			Usage:        &usage,
			FinishReason: normalizeAnthropicFinish(string(message.StopReason)),
		}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// ListModels returns the static Claude model projection: the Messages API
// has no discovery endpoint worth depending on.
func (p *Anthropic) ListModels(_ context.Context) ([]string, error) {
	return []string{
		"claude-sonnet-4-20250514",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
	}, nil
}
