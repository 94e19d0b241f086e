package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ibeckermayer/dripfeed/internal/catalog"
	"github.com/ibeckermayer/dripfeed/internal/expander"
)

// Token prices per million, used only for provenance accounting.
const (
	inputPricePerMTok  = 3.0
	outputPricePerMTok = 15.0
)

// AnthropicClient generates post batches via the Anthropic API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates a generator backed by the Anthropic API.
func NewAnthropicClient(apiKey, model string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &AnthropicClient{
		client: &client,
		model:  model,
	}, nil
}

// Init checks that a model is configured. Credential validity surfaces on
// the first GenerateBatch call; a startup round-trip is not worth a token.
func (c *AnthropicClient) Init(ctx context.Context) error {
	if c.model == "" {
		return fmt.Errorf("anthropic model is required")
	}
	return nil
}

// generatedItem is the JSON shape the model is asked to produce.
type generatedItem struct {
	Content string `json:"content"`
	Topic   string `json:"topic"`
}

// GenerateBatch asks the model for count posts across the given topics and
// returns the ones that pass validation.
func (c *AnthropicClient) GenerateBatch(ctx context.Context, count int, topics []catalog.Topic) ([]Generated, error) {
	prompt := buildPrompt(count, topics)

	// Prefill with "[" so the model continues with a bare JSON array.
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock("[")),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call Anthropic API: %w", err)
	}

	var responseText string
	for _, block := range message.Content {
		if block.Type == "text" {
			responseText = block.Text
			break
		}
	}
	if responseText == "" {
		return nil, fmt.Errorf("model returned empty response")
	}

	tokens := int(message.Usage.InputTokens + message.Usage.OutputTokens)
	cost := float64(message.Usage.InputTokens)/1e6*inputPricePerMTok +
		float64(message.Usage.OutputTokens)/1e6*outputPricePerMTok

	// Re-prepend the prefilled "[".
	return parseBatch("["+responseText, c.model, tokens, cost)
}

// parseBatch decodes the model's JSON array, validates each item, and
// spreads the call's token/cost usage evenly across the survivors.
func parseBatch(raw, model string, totalTokens int, totalCost float64) ([]Generated, error) {
	var items []generatedItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("failed to parse generation response: %w", err)
	}

	var out []Generated
	for _, item := range items {
		content := stripWrappingQuotes(strings.TrimSpace(item.Content))
		if !acceptable(content) {
			continue
		}
		topic := catalog.Topic(item.Topic)
		if !catalog.Valid(topic) {
			topic = ""
		}
		out = append(out, Generated{
			Content: content,
			Topic:   topic,
			Model:   model,
		})
	}

	if len(out) > 0 {
		perTokens := totalTokens / len(out)
		perCost := totalCost / float64(len(out))
		for i := range out {
			out[i].TokensUsed = perTokens
			out[i].Cost = perCost
		}
	}
	return out, nil
}

func stripWrappingQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// buildPrompt asks for short standalone posts as a JSON array.
func buildPrompt(count int, topics []catalog.Topic) string {
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, string(t))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write %d short social media posts for a developer audience.\n\n", count)
	fmt.Fprintf(&b, "Spread them across these topics: %s.\n\n", strings.Join(names, ", "))
	fmt.Fprintf(&b, "Rules:\n")
	fmt.Fprintf(&b, "- Each post must be at most %d characters.\n", expander.MaxPostLen)
	b.WriteString("- Plain text only: no hashtags, no mentions, no links, no emoji.\n")
	b.WriteString("- Each post stands alone. No numbering, no quotes around the text.\n\n")
	b.WriteString(`Respond with only a JSON array of objects shaped like {"content": "...", "topic": "..."}.`)
	return b.String()
}
