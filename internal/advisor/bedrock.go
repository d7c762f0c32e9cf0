package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ignite/list-rotator/internal/domain"
	"github.com/ignite/list-rotator/internal/pkg/logger"
)

// Input is everything the advisor gets to see for one run.
type Input struct {
	Workflow domain.WorkflowKind   `json:"workflow"`
	SendID   string                `json:"send_id,omitempty"`
	Snapshot domain.ListSnapshot   `json:"snapshot"`
	Bounces  []domain.BounceEvent  `json:"bounces,omitempty"`
	Targets  domain.ListSnapshot   `json:"targets,omitempty"`
}

// Proposal is a validated advisory output: a suppression plan and a
// rebalancing plan, both still subject to the plan validator.
type Proposal struct {
	Suppression domain.SuppressionPlan
	Rebalancing domain.RebalancingPlan
}

// Advisor produces a Proposal for a run.
type Advisor interface {
	Propose(ctx context.Context, in Input) (*Proposal, error)
}

// ModelInvoker is the Bedrock call surface, narrowed for tests.
type ModelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config holds the Bedrock advisor settings.
type Config struct {
	ModelID string
	Region  string
	Timeout time.Duration
}

// BedrockAdvisor asks a Bedrock-hosted model for maintenance proposals.
type BedrockAdvisor struct {
	client  ModelInvoker
	modelID string
	timeout time.Duration
}

// NewBedrock creates a Bedrock advisor using the default AWS credential chain.
func NewBedrock(ctx context.Context, cfg Config) (*BedrockAdvisor, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewBedrockWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

// NewBedrockWithClient creates a Bedrock advisor over an existing client.
func NewBedrockWithClient(client ModelInvoker, cfg Config) *BedrockAdvisor {
	if cfg.ModelID == "" {
		cfg.ModelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &BedrockAdvisor{client: client, modelID: cfg.ModelID, timeout: cfg.Timeout}
}

// modelRequest is the Anthropic messages payload Bedrock expects.
type modelRequest struct {
	AnthropicVersion string         `json:"anthropic_version"`
	MaxTokens        int            `json:"max_tokens"`
	System           string         `json:"system,omitempty"`
	Messages         []modelMessage `json:"messages"`
	Temperature      float64        `json:"temperature,omitempty"`
}

type modelMessage struct {
	Role    string              `json:"role"`
	Content []modelContentBlock `json:"content"`
}

type modelContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type modelResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

const systemPrompt = `You are a list-hygiene advisor for an email platform with one master list, three campaign lists and one suppression list. Given list sizes and bounce evidence, propose which contacts to suppress and which to move so the campaign lists stay balanced. Respond with ONLY a JSON object matching this schema, no prose:
{"suppression":{"entries":[{"contact_id":123,"reason":"hard_bounce","evidence":"...","confidence":0.95}]},"rebalancing":{"targets":{"campaign_1":0,"campaign_2":0,"campaign_3":0},"movements":[{"contact_id":123,"from":"campaign_1","to":"campaign_2","confidence":0.9}]}}
Confidence is a number in [0,1]. Never propose moving a contact onto the suppression or master list.`

// Propose asks the model for a maintenance proposal. Returns
// domain.ErrAdvisoryTimeout when the deadline passes and
// domain.ErrAdvisorySchema when the reply fails validation; the caller falls
// back to the rule-based planner for both.
func (b *BedrockAdvisor) Propose(ctx context.Context, in Input) (*Proposal, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	userMsg, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal advisor input: %w", err)
	}
	req := modelRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        4096,
		System:           systemPrompt,
		Messages: []modelMessage{{
			Role:    "user",
			Content: []modelContentBlock{{Type: "text", Text: string(userMsg)}},
		}},
		Temperature: 0,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal model request: %w", err)
	}

	started := time.Now()
	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			logger.Warn("advisory model timed out",
				"model", b.modelID, "elapsed", time.Since(started).String())
			return nil, domain.ErrAdvisoryTimeout
		}
		return nil, fmt.Errorf("invoke advisory model: %w", err)
	}

	var resp modelResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("%w: unreadable model envelope: %v", domain.ErrAdvisorySchema, err)
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	proposal, err := parseProposal(text.String())
	if err != nil {
		logger.Warn("advisory reply rejected", "model", b.modelID, "error", err)
		return nil, err
	}
	logger.Info("advisory proposal received",
		"model", b.modelID,
		"suppressions", len(proposal.Suppression.Entries),
		"movements", len(proposal.Rebalancing.Movements),
		"elapsed", time.Since(started).String())
	return proposal, nil
}
