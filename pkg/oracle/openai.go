package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/pkg/errors"

	"github.com/concord-io/concord/pkg/models"
	"github.com/concord-io/concord/pkg/observability"
)

const proposeSystemPrompt = `You are a scheduling mediator representing one stakeholder group in a ` +
	`multi-party negotiation over conflicting calendar items. Respond with a single concrete, ` +
	`unambiguous proposal in at most three sentences.`

const judgeSystemPrompt = `You are an impartial judge of negotiation positions. Respond ONLY with a ` +
	`JSON object of the form {"converged":bool,"agreed_proposal":string,"conflicts":[{"parties":[string],` +
	`"description":string,"severity":"low|medium|high|critical"}]}. No prose.`

// OpenAIOracle backs the reasoning oracle with a chat-completion model.
type OpenAIOracle struct {
	client *openai.Client
	model  string
	logger observability.Logger
}

// NewOpenAIOracle creates an oracle over the given API key and model.
func NewOpenAIOracle(apiKey, model string, logger observability.Logger) *OpenAIOracle {
	if model == "" {
		model = openai.GPT4oMini
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &OpenAIOracle{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger.WithPrefix("oracle"),
	}
}

// Propose drafts a free-text proposal for one party.
func (o *OpenAIOracle) Propose(ctx context.Context, req ProposeRequest) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Party: %s\nConflict (%s): %s\n", req.Party, req.ConflictType, req.Description)
	if len(req.PriorProposals) > 0 {
		sb.WriteString("Prior round proposals:\n")
		for _, p := range req.PriorProposals {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}
	if req.Guidance != "" {
		fmt.Fprintf(&sb, "Supervisor guidance: %s\n", req.Guidance)
	}
	sb.WriteString("Propose one concrete resolution.")

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: proposeSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "oracle propose call failed")
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", models.ErrOracleParse
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Judge returns a structured verdict over the given positions.
func (o *OpenAIOracle) Judge(ctx context.Context, req JudgeRequest) (*Verdict, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\nPositions:\n", req.Question)
	for party, position := range req.Positions {
		fmt.Fprintf(&sb, "- %s: %s\n", party, position)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: judgeSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "oracle judge call failed")
	}
	if len(resp.Choices) == 0 {
		return nil, models.ErrOracleParse
	}

	verdict, err := parseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		o.logger.Warn("unparsable oracle verdict", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, models.ErrOracleParse
	}
	return verdict, nil
}

// parseVerdict decodes a verdict from model output, tolerating fenced or
// prose-wrapped JSON.
func parseVerdict(raw string) (*Verdict, error) {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return &v, nil
}
