package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kailas-cloud/triage/internal/domain"
)

const maxPromptContent = 6000

const systemPrompt = `You classify business messages and documents for a company inbox.
Answer with a JSON object {"class": string, "confidence": number between 0 and 1} and nothing else.`

// Classifier is an AI classifier backed by a chat completion model.
type Classifier struct {
	client  *openai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClassifier creates a chat-completion classifier.
func NewClassifier(cfg *Config) *Classifier {
	return &Classifier{
		client:  cfg.client(),
		model:   cfg.Model,
		breaker: newBreaker("classifier:"+cfg.Provider, cfg.Breaker, cfg.logger()),
		logger:  cfg.logger(),
	}
}

// Classify implements domain.Classifier. Any failure wraps domain.ErrClassifierUnavailable.
// An answer outside in.Categories is reported as domain.Unclassified.
func (c *Classifier) Classify(ctx context.Context, in domain.ClassifierInput) (domain.Prediction, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(in)},
		},
		Temperature:    0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, parseAPIError("classifier", err, domain.ErrClassifierUnavailable)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("empty completion: %w", domain.ErrClassifierUnavailable)
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return domain.Prediction{}, breakerError(err, domain.ErrClassifierUnavailable)
	}

	p, err := parsePrediction(out.(string))
	if err != nil {
		c.logger.Warn("Unparseable classifier answer", zap.Error(err))
		return domain.Prediction{}, fmt.Errorf("%w: %v", domain.ErrClassifierUnavailable, err)
	}
	if len(in.Categories) > 0 && !contains(in.Categories, p.Class) {
		c.logger.Debug("Classifier answered outside the category list", zap.String("class", p.Class))
		return domain.Prediction{Class: domain.Unclassified}, nil
	}
	return p, nil
}

func userPrompt(in domain.ClassifierInput) string {
	var b strings.Builder
	if len(in.Categories) > 0 {
		fmt.Fprintf(&b, "Choose exactly one class from: %s.\n\n", strings.Join(in.Categories, ", "))
	}
	fmt.Fprintf(&b, "Type: %s\n", in.EntityType)
	if in.Sender != "" {
		fmt.Fprintf(&b, "From: %s\n", in.Sender)
	}
	if in.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", in.Subject)
	}
	content := in.Content
	if r := []rune(content); len(r) > maxPromptContent {
		content = string(r[:maxPromptContent])
	}
	b.WriteString("\n")
	b.WriteString(content)
	return b.String()
}

func parsePrediction(s string) (domain.Prediction, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	var raw struct {
		Class      string  `json:"class"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &raw); err != nil {
		return domain.Prediction{}, fmt.Errorf("decode answer: %w", err)
	}
	class := strings.ToLower(strings.TrimSpace(raw.Class))
	if class == "" {
		return domain.Prediction{}, fmt.Errorf("answer has no class")
	}
	return domain.Prediction{Class: class, Confidence: min(max(raw.Confidence, 0), 1)}, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}
