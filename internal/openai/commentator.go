package openai

import (
	"context"
	"fmt"
	"strings"

	oa "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const maxReportChars = 12000

// Commentator asks a chat model for a short analyst note on a pipeline report.
type Commentator struct {
	cli   oa.Client
	model string
}

func NewCommentator(apiKey, model string, opts ...option.RequestOption) *Commentator {
	if model == "" {
		model = "gpt-4"
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Commentator{cli: oa.NewClient(opts...), model: model}
}

func (c *Commentator) Comment(ctx context.Context, report string) (string, error) {
	systemPrompt := `You are a quantitative analyst reviewing the output of an automated daily forecasting run over a small portfolio of assets.

Your response must follow this exact structure:

**Market Picture:**
[Two or three sentences on trend and volatility across the assets]

**Forecast Quality:**
[Compare the models on RMSE and MAPE; say which one to trust and how much]

**Risk:**
[Point out the asset with the worst value at risk or drawdown]

Guidelines:
- Only use numbers that appear in the report
- Do not give buy or sell advice
- Keep it under 200 words
- Text only, no links`

	body := strings.TrimSpace(report)
	if body == "" {
		return "", fmt.Errorf("empty report")
	}
	if len(body) > maxReportChars {
		body = body[:maxReportChars]
	}

	resp, err := c.cli.Chat.Completions.New(ctx, oa.ChatCompletionNewParams{
		Model: oa.ChatModel(c.model),
		Messages: []oa.ChatCompletionMessageParamUnion{
			oa.SystemMessage(systemPrompt),
			oa.UserMessage("Pipeline report:\n\n" + body),
		},
		MaxTokens: oa.Int(600), // one telegram message
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
