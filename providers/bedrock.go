package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// Bedrock implements the Provider interface for AWS Bedrock. Anthropic
// Claude, Amazon Titan, and Meta Llama models are reached through the
// runtime InvokeModel API; the model ID prefix selects the wire dialect.
type Bedrock struct {
	Base
	client *bedrockruntime.Client
	region string
}

// NewBedrock creates an AWS Bedrock provider. An explicit access key pair
// takes precedence; otherwise credentials come from the default AWS chain.
// Region defaults to us-east-1.
func NewBedrock(ctx context.Context, region, accessKeyID, secretAccessKey string) (*Bedrock, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, WrapErr(CodeAuthMissing, "bedrock", "", err)
	}
	return &Bedrock{
		Base:   Base{name: "bedrock", baseURL: fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region)},
		client: bedrockruntime.NewFromConfig(cfg),
		region: region,
	}, nil
}

// Supports consults the capability lookup; without one, only the Claude
// family gets tools and vision.
func (p *Bedrock) Supports(model, capability string) bool {
	fallback := false
	switch capability {
	case CapTools, CapVision:
		fallback = strings.HasPrefix(model, "anthropic.")
	}
	return p.supports(model, capability, fallback)
}

// mapBedrockError converts SDK failures into the taxonomy.
func (p *Bedrock) mapBedrockError(model string, err error) error {
	var (
		throttle   *types.ThrottlingException
		validation *types.ValidationException
		notFound   *types.ResourceNotFoundException
		denied     *types.AccessDeniedException
		timeout    *types.ModelTimeoutException
		internal   *types.InternalServerException
		notReady   *types.ModelNotReadyException
	)
	switch {
	case errors.As(err, &throttle):
		return WrapErr(CodeRateLimited, p.name, model, err)
	case errors.As(err, &validation):
		if looksLikeContextOverflow(err.Error()) {
			return WrapErr(CodeContextOverflow, p.name, model, err)
		}
		return WrapErr(CodeInvalidRequest, p.name, model, err)
	case errors.As(err, &notFound):
		return WrapErr(CodeModelNotFound, p.name, model, err)
	case errors.As(err, &denied):
		return WrapErr(CodeAuthRejected, p.name, model, err)
	case errors.As(err, &timeout):
		return WrapErr(CodeUpstreamServer, p.name, model, err)
	case errors.As(err, &internal), errors.As(err, &notReady):
		return WrapErr(CodeUpstreamServer, p.name, model, err)
	}
	return MapTransportError(p.name, model, err)
}

func (p *Bedrock) invoke(ctx context.Context, model string, body []byte) ([]byte, error) {
	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, p.mapBedrockError(model, err)
	}
	return output.Body, nil
}

// ── Anthropic Claude on Bedrock ──────────────────────────────────────────────

type bedrockClaudeContent struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Source *struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	} `json:"source,omitempty"`
}

type bedrockClaudeMessage struct {
	Role    string                 `json:"role"`
	Content []bedrockClaudeContent `json:"content"`
}

type bedrockClaudeRequest struct {
	AnthropicVersion string                 `json:"anthropic_version"`
	MaxTokens        int                    `json:"max_tokens"`
	Messages         []bedrockClaudeMessage `json:"messages"`
	Temperature      *float64               `json:"temperature,omitempty"`
	TopP             *float64               `json:"top_p,omitempty"`
	StopSequences    []string               `json:"stop_sequences,omitempty"`
	System           string                 `json:"system,omitempty"`
}

type bedrockClaudeResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func buildBedrockClaudeRequest(req Request) bedrockClaudeRequest {
	maxTokens := defaultAnthropicMaxTokens
	if req.MaxOutputTokens != nil {
		maxTokens = *req.MaxOutputTokens
	}

	var system string
	var messages []bedrockClaudeMessage
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			system = msg.Content
			continue
		}
		var content []bedrockClaudeContent
		if msg.Content != "" {
			content = append(content, bedrockClaudeContent{Type: "text", Text: msg.Content})
		}
		for _, img := range msg.Images {
			part := bedrockClaudeContent{Type: "image"}
			part.Source = &struct {
				Type      string `json:"type"`
				MediaType string `json:"media_type"`
				Data      string `json:"data"`
			}{Type: "base64", MediaType: img.MIME, Data: img.Data}
			content = append(content, part)
		}
		role := msg.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		messages = append(messages, bedrockClaudeMessage{Role: role, Content: content})
	}

	return bedrockClaudeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Messages:         messages,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		StopSequences:    req.Stop,
		System:           system,
	}
}

func (p *Bedrock) completeClaude(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(buildBedrockClaudeRequest(req))
	if err != nil {
		return nil, WrapErr(CodeInvalidRequest, p.name, req.Model, err)
	}
	out, err := p.invoke(ctx, req.Model, body)
	if err != nil {
		return nil, err
	}

	var wire bedrockClaudeResponse
	if err := json.Unmarshal(out, &wire); err != nil {
		return nil, WrapErr(CodeProviderProtocol, p.name, req.Model, err)
	}
	var text strings.Builder
	for _, c := range wire.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	return &Response{
		ID:       wire.ID,
		Content:  text.String(),
		Model:    req.Model,
		Provider: p.name,
		Usage: Usage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
		},
		FinishReason: normalizeAnthropicFinish(wire.StopReason),
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// ── Amazon Titan ─────────────────────────────────────────────────────────────

type bedrockTitanRequest struct {
	InputText            string `json:"inputText"`
	TextGenerationConfig struct {
		MaxTokenCount int      `json:"maxTokenCount,omitempty"`
		Temperature   float64  `json:"temperature,omitempty"`
		TopP          *float64 `json:"topP,omitempty"`
		StopSequences []string `json:"stopSequences,omitempty"`
	} `json:"textGenerationConfig"`
}

type bedrockTitanResponse struct {
	InputTextTokenCount int `json:"inputTextTokenCount"`
	Results             []struct {
		TokenCount       int    `json:"tokenCount"`
		OutputText       string `json:"outputText"`
		CompletionReason string `json:"completionReason"`
	} `json:"results"`
}

func (p *Bedrock) completeTitan(ctx context.Context, req Request) (*Response, error) {
	var sb strings.Builder
	for _, msg := range req.Messages {
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}

	titanReq := bedrockTitanRequest{InputText: sb.String()}
	if req.MaxOutputTokens != nil {
		titanReq.TextGenerationConfig.MaxTokenCount = *req.MaxOutputTokens
	}
	if req.Temperature != nil {
		titanReq.TextGenerationConfig.Temperature = *req.Temperature
	}
	titanReq.TextGenerationConfig.TopP = req.TopP
	titanReq.TextGenerationConfig.StopSequences = req.Stop

	body, err := json.Marshal(titanReq)
	if err != nil {
		return nil, WrapErr(CodeInvalidRequest, p.name, req.Model, err)
	}
	out, err := p.invoke(ctx, req.Model, body)
	if err != nil {
		return nil, err
	}

	var wire bedrockTitanResponse
	if err := json.Unmarshal(out, &wire); err != nil {
		return nil, WrapErr(CodeProviderProtocol, p.name, req.Model, err)
	}
	if len(wire.Results) == 0 {
		return nil, Errf(CodeProviderProtocol, p.name, req.Model, "response carries no results")
	}

	completion := 0
	var text strings.Builder
	for _, r := range wire.Results {
		completion += r.TokenCount
		text.WriteString(r.OutputText)
	}
	finish := FinishStop
	if wire.Results[0].CompletionReason == "LENGTH" {
		finish = FinishLength
	}
	return &Response{
		Content:  text.String(),
		Model:    req.Model,
		Provider: p.name,
		Usage: Usage{
			PromptTokens:     wire.InputTextTokenCount,
			CompletionTokens: completion,
		},
		FinishReason: finish,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// ── Meta Llama ───────────────────────────────────────────────────────────────

type bedrockLlamaRequest struct {
	Prompt      string   `json:"prompt"`
	MaxGenLen   int      `json:"max_gen_len,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

type bedrockLlamaResponse struct {
	Generation           string `json:"generation"`
	PromptTokenCount     int    `json:"prompt_token_count"`
	GenerationTokenCount int    `json:"generation_token_count"`
	StopReason           string `json:"stop_reason"`
}

func (p *Bedrock) completeLlama(ctx context.Context, req Request) (*Response, error) {
	var sb strings.Builder
	sb.WriteString("<|begin_of_text|>")
	for _, msg := range req.Messages {
		fmt.Fprintf(&sb, "<|start_header_id|>%s<|end_header_id|>\n\n%s<|eot_id|>\n", msg.Role, msg.Content)
	}
	sb.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")

	llamaReq := bedrockLlamaRequest{
		Prompt:      sb.String(),
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.MaxOutputTokens != nil {
		llamaReq.MaxGenLen = *req.MaxOutputTokens
	}

	body, err := json.Marshal(llamaReq)
	if err != nil {
		return nil, WrapErr(CodeInvalidRequest, p.name, req.Model, err)
	}
	out, err := p.invoke(ctx, req.Model, body)
	if err != nil {
		return nil, err
	}

	var wire bedrockLlamaResponse
	if err := json.Unmarshal(out, &wire); err != nil {
		return nil, WrapErr(CodeProviderProtocol, p.name, req.Model, err)
	}
	finish := FinishStop
	if wire.StopReason == "length" {
		finish = FinishLength
	}
	return &Response{
		Content:  wire.Generation,
		Model:    req.Model,
		Provider: p.name,
		Usage: Usage{
			PromptTokens:     wire.PromptTokenCount,
			CompletionTokens: wire.GenerationTokenCount,
		},
		FinishReason: finish,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Complete routes to the wire dialect selected by the model ID prefix.
func (p *Bedrock) Complete(ctx context.Context, req Request) (*Response, error) {
	switch {
	case strings.HasPrefix(req.Model, "anthropic."):
		return p.completeClaude(ctx, req)
	case strings.HasPrefix(req.Model, "amazon.titan"):
		return p.completeTitan(ctx, req)
	case strings.HasPrefix(req.Model, "meta.llama"):
		return p.completeLlama(ctx, req)
	}
	return nil, Errf(CodeModelNotFound, p.name, req.Model, "unsupported model family")
}

// Stream streams Claude models natively; the other families have no usable
// streaming dialect, so their complete response is replayed as a short
// stream.
func (p *Bedrock) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	if !strings.HasPrefix(req.Model, "anthropic.") {
		return p.streamFromComplete(ctx, req)
	}

	body, err := json.Marshal(buildBedrockClaudeRequest(req))
	if err != nil {
		return nil, WrapErr(CodeInvalidRequest, p.name, req.Model, err)
	}
	output, err := p.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(req.Model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, p.mapBedrockError(req.Model, err)
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		stream := output.GetStream()
		defer func() { _ = stream.Close() }()

		usage := Usage{}
		finish := ""
		for event := range stream.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var payload struct {
				Type    string `json:"type"`
				Message struct {
					Usage struct {
						InputTokens int `json:"input_tokens"`
					} `json:"usage"`
				} `json:"message"`
				Delta struct {
					Type       string `json:"type"`
					Text       string `json:"text"`
					StopReason string `json:"stop_reason"`
				} `json:"delta"`
				Usage struct {
					OutputTokens int `json:"output_tokens"`
				} `json:"usage"`
			}
			if err := json.Unmarshal(chunk.Value.Bytes, &payload); err != nil {
				ch <- StreamChunk{
					Model: req.Model, Provider: p.name,
					Err: WrapErr(CodeProviderProtocol, p.name, req.Model, err),
				}
				return
			}
			switch payload.Type {
			case "message_start":
				usage.PromptTokens = payload.Message.Usage.InputTokens
			case "content_block_delta":
				if payload.Delta.Type == "text_delta" && payload.Delta.Text != "" {
					select {
					case ch <- StreamChunk{Delta: payload.Delta.Text, Model: req.Model, Provider: p.name}:
					case <-ctx.Done():
						return
					}
				}
			case "message_delta":
				if payload.Delta.StopReason != "" {
					finish = normalizeAnthropicFinish(payload.Delta.StopReason)
				}
				if payload.Usage.OutputTokens > 0 {
					usage.CompletionTokens = payload.Usage.OutputTokens
				}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- StreamChunk{
				Model: req.Model, Provider: p.name,
				Err: p.mapBedrockError(req.Model, err),
			}
			return
		}
		if finish == "" {
			finish = FinishStop
		}
		select {
		case ch <- StreamChunk{Model: req.Model, Provider: p.name, Usage: &usage, FinishReason: finish}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// streamFromComplete replays a whole response as one content chunk followed
// by the terminal usage chunk.
func (p *Bedrock) streamFromComplete(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk, 2)
	if resp.Content != "" {
		ch <- StreamChunk{Delta: resp.Content, Model: resp.Model, Provider: p.name}
	}
	usage := resp.Usage
	ch <- StreamChunk{Model: resp.Model, Provider: p.name, Usage: &usage, FinishReason: resp.FinishReason}
	close(ch)
	return ch, nil
}

// ListModels returns the static projection of well-known Bedrock model IDs.
func (p *Bedrock) ListModels(_ context.Context) ([]string, error) {
	return []string{
		"anthropic.claude-3-5-sonnet-20241022-v2:0",
		"anthropic.claude-3-5-haiku-20241022-v1:0",
		"amazon.titan-text-express-v1",
		"meta.llama3-1-70b-instruct-v1:0",
	}, nil
}
