package ai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/retracehq/retrace/internal/errors"
	"github.com/retracehq/retrace/plugin/ai/timeout"
)

// LLMService is the structured chat completion interface. Both the
// interpreter and the aggregator ask for a single required string field
// rather than parsing free text.
type LLMService interface {
	// Describe issues one structured chat request and returns the
	// description field of the response.
	Describe(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// descriptionSchema is the structured-output contract: one required string
// field, nothing else.
var descriptionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"description": {"type": "string"}
	},
	"required": ["description"],
	"additionalProperties": false
}`)

type descriptionPayload struct {
	Description string `json:"description"`
}

// Describe performs one structured chat completion.
func (p *Provider) Describe(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []openai.ChatCompletionMessage{}
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt,
	})

	return p.describe(ctx, messages)
}

func (p *Provider) describe(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout.ChatTimeout)
	defer cancel()
	defer p.observe(CallKindChat, time.Now())

	var result string
	err := p.doWithRetry(ctx, func() error {
		req := openai.ChatCompletionRequest{
			Model:    p.config.ChatModel,
			Messages: messages,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   "description",
					Schema: descriptionSchema,
					Strict: true,
				},
			},
		}

		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.Model("empty chat response", nil)
		}

		var payload descriptionPayload
		if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &payload); err != nil {
			return errors.Model("unparseable structured output", err)
		}
		if strings.TrimSpace(payload.Description) == "" {
			return errors.Model("structured output missing description", nil)
		}
		result = strings.TrimSpace(payload.Description)
		return nil
	})
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeModel) {
			return "", err
		}
		return "", errors.Model("failed to complete chat", err)
	}

	return result, nil
}
