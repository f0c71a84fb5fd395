package providers

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
)

func TestAnthropic_SupportsHeuristics(t *testing.T) {
	p := NewAnthropic("k", "")
	tests := []struct {
		model, capability string
		want              bool
	}{
		{"claude-3-5-haiku-20241022", CapTools, true},
		{"claude-3-5-haiku-20241022", CapVision, true},
		{"claude-3-5-haiku-20241022", CapPromptCache, true},
		{"claude-3-5-haiku-20241022", CapReasoning, false},
		{"not-a-claude", CapTools, false},
	}
	for _, tt := range tests {
		if got := p.Supports(tt.model, tt.capability); got != tt.want {
			t.Errorf("Supports(%s, %s) = %v, want %v", tt.model, tt.capability, got, tt.want)
		}
	}
}

func TestNormalizeAnthropicUsage(t *testing.T) {
	got := normalizeAnthropicUsage(sdk.Usage{
		InputTokens:              40_000,
		OutputTokens:             1_000,
		CacheReadInputTokens:     60_000,
		CacheCreationInputTokens: 10_000,
	})
	// PromptTokens folds cache reads back in: uncached + cache reads.
	if got.PromptTokens != 100_000 {
		t.Errorf("PromptTokens = %d, want 100000", got.PromptTokens)
	}
	if got.CacheReadTokens != 60_000 {
		t.Errorf("CacheReadTokens = %d, want 60000", got.CacheReadTokens)
	}
	if got.CacheWriteTokens != 10_000 {
		t.Errorf("CacheWriteTokens = %d, want 10000", got.CacheWriteTokens)
	}
	if got.CompletionTokens != 1_000 {
		t.Errorf("CompletionTokens = %d, want 1000", got.CompletionTokens)
	}
}

func TestNormalizeAnthropicFinish(t *testing.T) {
	tests := []struct{ in, want string }{
		{"end_turn", FinishStop},
		{"stop_sequence", FinishStop},
		{"", FinishStop},
		{"max_tokens", FinishLength},
		{"tool_use", FinishToolUse},
	}
	for _, tt := range tests {
		if got := normalizeAnthropicFinish(tt.in); got != tt.want {
			t.Errorf("normalizeAnthropicFinish(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildAnthropicParams(t *testing.T) {
	temp := 0.5
	maxOut := 2048
	req := Request{
		Model: "claude-3-5-haiku-20241022",
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief", CacheHint: true},
			{Role: RoleUser, Content: "hello"},
			{Role: RoleAssistant, Content: "hi"},
		},
		Temperature:     &temp,
		MaxOutputTokens: &maxOut,
		Stop:            []string{"END"},
	}
	params := buildAnthropicParams(req)

	if params.Model != "claude-3-5-haiku-20241022" {
		t.Errorf("Model = %s", params.Model)
	}
	if params.MaxTokens != 2048 {
		t.Errorf("MaxTokens = %d", params.MaxTokens)
	}
	if len(params.System) != 1 || params.System[0].Text != "be brief" {
		t.Fatalf("System = %+v", params.System)
	}
	if params.System[0].CacheControl.Type != "ephemeral" {
		t.Error("CacheHint should set the ephemeral cache directive")
	}
	if len(params.Messages) != 2 {
		t.Fatalf("Messages = %d, want 2 (system lifted out)", len(params.Messages))
	}
	if params.Messages[0].Role != "user" || params.Messages[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", params.Messages[0].Role, params.Messages[1].Role)
	}
	if params.Temperature.Value != 0.5 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if len(params.StopSequences) != 1 || params.StopSequences[0] != "END" {
		t.Errorf("StopSequences = %v", params.StopSequences)
	}
}

func TestBuildAnthropicParams_DefaultMaxTokens(t *testing.T) {
	params := buildAnthropicParams(Request{
		Model:    "claude-3-5-haiku-20241022",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if params.MaxTokens != defaultAnthropicMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", params.MaxTokens, defaultAnthropicMaxTokens)
	}
}

func TestBuildAnthropicParams_Images(t *testing.T) {
	params := buildAnthropicParams(Request{
		Model: "claude-3-5-haiku-20241022",
		Messages: []Message{{
			Role:    RoleUser,
			Content: "what is this?",
			Images:  []ImagePart{{MIME: "image/png", Data: "aGk="}},
		}},
	})
	if len(params.Messages) != 1 {
		t.Fatalf("Messages = %d", len(params.Messages))
	}
	content := params.Messages[0].Content
	if len(content) != 2 {
		t.Fatalf("content blocks = %d, want text + image", len(content))
	}
	if content[0].OfText == nil || content[0].OfText.Text != "what is this?" {
		t.Errorf("first block = %+v", content[0])
	}
	if content[1].OfImage == nil {
		t.Errorf("second block = %+v, want image", content[1])
	}
}

func TestBuildAnthropicParams_Tools(t *testing.T) {
	params := buildAnthropicParams(Request{
		Model:    "claude-3-5-haiku-20241022",
		Messages: []Message{{Role: RoleUser, Content: "look it up"}},
		Tools: []ToolSpec{{
			Name:        "lookup",
			Description: "fetch a record",
			Parameters:  []byte(`{"type":"object","properties":{"id":{"type":"string"}}}`),
		}},
	})
	if len(params.Tools) != 1 {
		t.Fatalf("Tools = %d", len(params.Tools))
	}
	tool := params.Tools[0].OfTool
	if tool == nil {
		t.Fatal("expected a plain tool variant")
	}
	if tool.Name != "lookup" {
		t.Errorf("Name = %s", tool.Name)
	}
	if tool.Description.Value != "fetch a record" {
		t.Errorf("Description = %v", tool.Description)
	}
	if tool.InputSchema.ExtraFields["type"] != "object" {
		t.Errorf("InputSchema = %+v", tool.InputSchema)
	}
}
