package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI implements the Provider interface for OpenAI via the official SDK.
type OpenAI struct {
	Base
	client openai.Client
}

// NewOpenAI creates an OpenAI provider. Pass "" for baseURL to use the
// default endpoint.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	resolvedBase := "https://api.openai.com"
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
		resolvedBase = baseURL
	}
	return &OpenAI{
		Base:   Base{name: "openai", apiKey: apiKey, baseURL: resolvedBase},
		client: openai.NewClient(opts...),
	}
}

// Supports consults the capability lookup; without one it falls back to
// model-family heuristics.
func (p *OpenAI) Supports(model, capability string) bool {
	fallback := false
	switch capability {
	case CapTools:
		fallback = true
	case CapVision:
		fallback = strings.HasPrefix(model, "gpt-4o") || strings.HasPrefix(model, "gpt-4-turbo")
	case CapReasoning:
		fallback = len(model) >= 2 && model[0] == 'o' && model[1] >= '0' && model[1] <= '9'
	}
	return p.supports(model, capability, fallback)
}

// mapOpenAIError routes SDK failures through the shared wire-error table.
func (p *OpenAI) mapOpenAIError(model string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		header := make(map[string][]string)
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return MapWireError(p.name, model, apiErr.StatusCode, header, apiErr.Error())
	}
	return MapTransportError(p.name, model, err)
}

// Complete sends a chat completion request to OpenAI.
func (p *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Messages: buildOpenAIMessages(req.Messages),
		Model:    req.Model,
	}
	if err := applyOpenAIParams(&params, req); err != nil {
		return nil, err
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.mapOpenAIError(req.Model, err)
	}
	if len(completion.Choices) == 0 {
		return nil, Errf(CodeProviderProtocol, p.name, req.Model, "completion carries no choices")
	}

	choice := completion.Choices[0]
	return &Response{
		ID:           completion.ID,
		Content:      choice.Message.Content,
		Model:        completion.Model,
		Provider:     p.name,
		Usage:        normalizeOpenAIUsage(completion.Usage),
		FinishReason: normalizeFinish(string(choice.FinishReason)),
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Stream sends a streaming chat completion request to OpenAI. Usage arrives
// on the vendor's trailing chunk (include_usage) and is re-emitted on the
// final normalized chunk together with the finish reason.
func (p *OpenAI) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	params := openai.ChatCompletionNewParams{
		Messages: buildOpenAIMessages(req.Messages),
		Model:    req.Model,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if err := applyOpenAIParams(&params, req); err != nil {
		return nil, err
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		var (
			model        = req.Model
			finishReason string
			usage        *Usage
			content      strings.Builder
		)
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Model != "" {
				model = chunk.Model
			}
			if chunk.Usage.TotalTokens > 0 {
				u := normalizeOpenAIUsage(chunk.Usage)
				usage = &u
			}
			for _, c := range chunk.Choices {
				if c.FinishReason != "" {
					finishReason = normalizeFinish(c.FinishReason)
				}
				if c.Delta.Content == "" {
					continue
				}
				content.WriteString(c.Delta.Content)
				select {
				case ch <- StreamChunk{Delta: c.Delta.Content, Model: model, Provider: p.name}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- StreamChunk{
				Model: model, Provider: p.name,
				Err: p.mapOpenAIError(model, err),
			}
			return
		}

		if usage == nil {
			u := estimatedUsage(req.Messages, content.String())
			usage = &u
		}
		if finishReason == "" {
			finishReason = FinishStop
		}
		select {
		case ch <- StreamChunk{Model: model, Provider: p.name, Usage: usage, FinishReason: finishReason}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// ListModels queries the live model list, falling back to a static
// projection when the endpoint is unreachable.
func (p *OpenAI) ListModels(ctx context.Context) ([]string, error) {
	static := []string{"gpt-4o", "gpt-4o-mini", "o1-2024-12-17"}

	page, err := p.client.Models.List(ctx)
	if err != nil {
		return static, nil
	}
	var ids []string
	for page != nil {
		for _, m := range page.Data {
			ids = append(ids, m.ID)
		}
		page, err = page.GetNextPage()
		if err != nil {
			break
		}
	}
	if len(ids) == 0 {
		return static, nil
	}
	return ids, nil
}

func normalizeOpenAIUsage(u openai.CompletionUsage) Usage {
	return Usage{
		PromptTokens:       int(u.PromptTokens),
		CompletionTokens:   int(u.CompletionTokens),
		CachedPromptTokens: int(u.PromptTokensDetails.CachedTokens),
		ReasoningTokens:    int(u.CompletionTokensDetails.ReasoningTokens),
	}
}

// buildOpenAIMessages converts normalized Messages to the SDK union type.
// Messages with inline images become multi-part user content.
func buildOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.Name))
		default:
			if len(msg.Images) == 0 {
				out = append(out, openai.UserMessage(msg.Content))
				continue
			}
			parts := []openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(msg.Content),
			}
			for _, img := range msg.Images {
				parts = append(parts, openai.ImageContentPart(
					openai.ChatCompletionContentPartImageImageURLParam{
						URL: "data:" + img.MIME + ";base64," + img.Data,
					}))
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}

// applyOpenAIParams applies the optional Request fields to the SDK params.
// A malformed tool parameter schema is the caller's mistake, surfaced as
// invalid_request before anything reaches the wire.
func applyOpenAIParams(params *openai.ChatCompletionNewParams, req Request) error {
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxOutputTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxOutputTokens))
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfStringArray: req.Stop,
		}
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			var paramSchema openai.FunctionParameters
			if len(t.Parameters) > 0 {
				if err := json.Unmarshal(t.Parameters, &paramSchema); err != nil {
					return Errf(CodeInvalidRequest, "openai", req.Model,
						"tool %q parameter schema: %v", t.Name, err)
				}
			}
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  paramSchema,
				},
			})
		}
		params.Tools = tools
	}
	return nil
}
