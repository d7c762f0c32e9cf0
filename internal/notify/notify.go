// Package notify sends one summary email per finalized maintenance run
// through AWS SES v2.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/list-rotator/internal/config"
	"github.com/ignite/list-rotator/internal/domain"
	"github.com/ignite/list-rotator/internal/pkg/logger"
)

// Notifier delivers run summaries. Implementations must be safe to call with
// a nil-configured backend; a disabled notifier is a no-op, never an error.
type Notifier interface {
	RunFinished(ctx context.Context, run *domain.MaintenanceRun) error
}

// EmailSender is the SES call surface, narrowed for tests.
type EmailSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier emails run summaries to the configured operators.
type SESNotifier struct {
	client EmailSender
	from   string
	to     []string
}

// NewSES creates an SES notifier from config. Returns a disabled notifier
// when cfg.Enabled is false or recipients are missing.
func NewSES(ctx context.Context, cfg config.NotifyConfig) (*SESNotifier, error) {
	n := &SESNotifier{from: cfg.From, to: cfg.To}
	if !cfg.Enabled || cfg.From == "" || len(cfg.To) == 0 {
		return n, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	n.client = sesv2.NewFromConfig(awsCfg)
	return n, nil
}

// NewSESWithClient creates a notifier over an existing SES client.
func NewSESWithClient(client EmailSender, from string, to []string) *SESNotifier {
	return &SESNotifier{client: client, from: from, to: to}
}

// RunFinished sends exactly one summary email for the run. Notification
// failures are logged and returned but never change the run's status.
func (n *SESNotifier) RunFinished(ctx context.Context, run *domain.MaintenanceRun) error {
	if n.client == nil {
		return nil
	}

	subject := runSubject(run)
	body := runBody(run)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination:      &types.Destination{ToAddresses: n.to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("run_id"), Value: aws.String(run.ID)},
			{Name: aws.String("workflow"), Value: aws.String(string(run.Workflow))},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		logger.Error("run notification failed", "run_id", run.ID, "error", err)
		return fmt.Errorf("send run notification: %w", err)
	}
	logger.Info("run notification sent", "run_id", run.ID, "status", string(run.Status))
	return nil
}

func runSubject(run *domain.MaintenanceRun) string {
	return fmt.Sprintf("[list-rotator] %s finished: %s", run.Workflow, run.Status)
}

func runBody(run *domain.MaintenanceRun) string {
	applied, failed, rejected, deferred := run.Counts()

	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s)\n", run.ID, run.Workflow)
	if run.SendID != "" {
		fmt.Fprintf(&b, "Send: %s\n", run.SendID)
	}
	fmt.Fprintf(&b, "Status: %s\n", run.Status)
	fmt.Fprintf(&b, "Started: %s\nFinished: %s\n\n",
		run.StartedAt.UTC().Format("2006-01-02 15:04:05 MST"),
		run.FinishedAt.UTC().Format("2006-01-02 15:04:05 MST"))

	fmt.Fprintf(&b, "Suppressed: %d\n", run.Suppressed)
	fmt.Fprintf(&b, "Rebalanced: %d\n", run.Rebalanced)
	fmt.Fprintf(&b, "Operations applied: %d, failed: %d\n", applied, failed)
	fmt.Fprintf(&b, "Plan entries rejected: %d, deferred for follow-up: %d\n", rejected, deferred)
	if run.UsedFallback {
		b.WriteString("Advisory service unavailable; rule-based fallback plan was used.\n")
	}
	if run.AbortReason != "" {
		fmt.Fprintf(&b, "Aborted: %s\n", run.AbortReason)
	}

	if orphans := orphanedContacts(run); len(orphans) > 0 {
		fmt.Fprintf(&b, "\nATTENTION: %d contact(s) orphaned mid-move, manual follow-up required:\n", len(orphans))
		for _, op := range orphans {
			fmt.Fprintf(&b, "  contact %d (%s -> %s): %s\n", op.ContactID, op.From, op.To, op.Error)
		}
	}

	if len(run.BeforeState) > 0 && len(run.AfterState) > 0 {
		b.WriteString("\nList sizes (before -> after):\n")
		for _, list := range domain.AllLists() {
			fmt.Fprintf(&b, "  %-12s %d -> %d\n", list, run.BeforeState[list], run.AfterState[list])
		}
	}
	return b.String()
}

func orphanedContacts(run *domain.MaintenanceRun) []domain.OperationResult {
	var out []domain.OperationResult
	for _, op := range run.Operations {
		if op.Status == domain.OpOrphaned {
			out = append(out, op)
		}
	}
	return out
}
