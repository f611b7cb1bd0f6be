package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/retracehq/retrace/internal/errors"
	"github.com/retracehq/retrace/plugin/ai/timeout"
)

// VisionService turns an image into a short factual description.
type VisionService interface {
	// DescribeImage sends the image to a vision-capable model and returns
	// a one-paragraph factual description of what is on screen.
	DescribeImage(ctx context.Context, image []byte, contentType string) (string, error)
}

const visionSystemPrompt = "You describe screenshots. Reply with one factual paragraph " +
	"stating what is visible on screen: application names, window titles, visible text and " +
	"activity. Do not evaluate, suggest, or analyze."

// DescribeImage issues one vision request with the image inlined as a
// base64 data URI, using the same structured single-field contract as chat.
func (p *Provider) DescribeImage(ctx context.Context, image []byte, contentType string) (string, error) {
	if len(image) == 0 {
		return "", errors.EmptyInput("image is empty")
	}
	if contentType == "" {
		contentType = "image/png"
	}

	dataURI := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(image))

	ctx, cancel := context.WithTimeout(ctx, timeout.VisionTimeout)
	defer cancel()
	defer p.observe(CallKindVision, time.Now())

	var result string
	err := p.doWithRetry(ctx, func() error {
		req := openai.ChatCompletionRequest{
			Model: p.config.VisionModel,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: visionSystemPrompt,
				},
				{
					Role: openai.ChatMessageRoleUser,
					MultiContent: []openai.ChatMessagePart{
						{
							Type: openai.ChatMessagePartTypeText,
							Text: "Describe this screenshot.",
						},
						{
							Type: openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{
								URL:    dataURI,
								Detail: openai.ImageURLDetailAuto,
							},
						},
					},
				},
			},
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
			return errors.Model("empty vision response", nil)
		}

		var payload descriptionPayload
		if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &payload); err != nil {
			return errors.Model("unparseable vision output", err)
		}
		if strings.TrimSpace(payload.Description) == "" {
			return errors.Model("vision output missing description", nil)
		}
		result = strings.TrimSpace(payload.Description)
		return nil
	})
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeModel) {
			return "", err
		}
		return "", errors.Model("failed to describe image", err)
	}

	return result, nil
}
