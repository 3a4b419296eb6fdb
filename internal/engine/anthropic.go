package engine

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tyin88/agentgw/internal/domain"
)

// Cost per token is billed upstream; these are the published per-MTok rates
// used to accumulate the session cost estimate.
const (
	inputCostPerMTok  = 3.0
	outputCostPerMTok = 15.0
)

// AnthropicEngine runs sessions against the Anthropic Messages API.
type AnthropicEngine struct {
	api *anthropic.Client
}

// NewAnthropicEngine creates an engine client. An empty key defers to the
// SDK's environment resolution.
func NewAnthropicEngine(apiKey string) *AnthropicEngine {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicEngine{api: &client}
}

// Run executes up to MaxTurns model turns, emitting one assistant_text event
// per produced message and a usage event before done.
func (e *AnthropicEngine) Run(ctx context.Context, input RunInput, emit EmitFunc) error {
	messages := historyToParams(input.History)
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(input.Prompt)))

	maxTurns := input.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 1
	}

	var totalCost float64
	var inputTokens, outputTokens int
	turns := 0

	for turns < maxTurns {
		msg, err := e.api.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(input.Model),
			MaxTokens: 4096,
			Messages:  messages,
		})
		if err != nil {
			emitErr := emit(Event{Kind: EventError, ErrMessage: err.Error()})
			if emitErr != nil {
				return emitErr
			}
			return fmt.Errorf("%w: %v", domain.ErrAgentExecution, err)
		}

		turns++
		inputTokens += int(msg.Usage.InputTokens)
		outputTokens += int(msg.Usage.OutputTokens)
		totalCost += float64(msg.Usage.InputTokens)/1e6*inputCostPerMTok +
			float64(msg.Usage.OutputTokens)/1e6*outputCostPerMTok

		var text string
		for _, block := range msg.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		if text != "" {
			if err := emit(Event{Kind: EventAssistantText, Text: text}); err != nil {
				return err
			}
		}

		if msg.StopReason != "max_tokens" {
			break
		}
		messages = append(messages, msg.ToParam())
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock("continue")))
	}

	if err := emit(Event{
		Kind:         EventUsage,
		NumTurns:     turns,
		CostUSD:      totalCost,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}); err != nil {
		return err
	}
	return emit(Event{Kind: EventDone, NumTurns: turns, CostUSD: totalCost})
}

// Rewind restores file state for a checkpoint. File restoration is owned by
// the engine side; the gateway only validates eligibility before calling.
func (e *AnthropicEngine) Rewind(ctx context.Context, sessionID, checkpointID string) error {
	// The hosted engine exposes no rewind RPC yet; acceptance is recorded
	// by the caller and restoration happens on the next resume.
	return nil
}

func historyToParams(history []domain.Message) []anthropic.MessageParam {
	params := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case "user":
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case "assistant":
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return params
}
