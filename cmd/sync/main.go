// Package main is the entry point for the plan sync job.
//
// It pushes every active membership plan (and coupon, when enabled) to the
// payment gateway once and exits. Inside AWS Lambda it registers the same
// pass as the handler so a schedule rule can trigger it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"memberpay/internal/app"
	"memberpay/internal/billing"
	"memberpay/internal/config"
	"memberpay/internal/types"
)

// Summary is the job's result, returned to Lambda and logged from the CLI.
type Summary struct {
	Upserted  int `json:"upserted"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func summarize(r billing.SyncReport) Summary {
	return Summary{
		Upserted:  r.Count(billing.OutcomeUpserted),
		Deleted:   r.Count(billing.OutcomeDeleted),
		Unchanged: r.Count(billing.OutcomeUnchanged),
		Skipped:   r.Count(billing.OutcomeSkipped),
		Failed:    r.Count(billing.OutcomeFailed),
	}
}

// Syncer runs one full pass.
type Syncer interface {
	SyncAll(ctx context.Context) billing.SyncReport
}

// Handler adapts a Syncer to the Lambda handler signature.
type Handler struct {
	syncer Syncer
	logger *slog.Logger
}

// Handle runs one pass. Listing failures fail the invocation; per-item
// failures are reported in the summary only.
func (h *Handler) Handle(ctx context.Context) (Summary, error) {
	ctx = types.WithActor(ctx, types.Actor{ID: "sync", Type: types.ActorTypeSystem, Source: "sync_lambda"})
	report := h.syncer.SyncAll(ctx)
	summary := summarize(report)
	if report.Err != nil {
		h.logger.ErrorContext(ctx, "sync pass could not list catalog", "error", report.Err)
		return summary, report.Err
	}
	h.logger.InfoContext(ctx, "sync pass complete",
		"upserted", summary.Upserted,
		"deleted", summary.Deleted,
		"unchanged", summary.Unchanged,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger); err != nil {
		logger.Error("sync job failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	h := &Handler{syncer: a.Synchronizer, logger: logger}

	if isLambdaEnvironment() {
		logger.Info("sync job running as lambda")
		lambda.Start(h.Handle)
		return nil
	}

	summary, err := h.Handle(ctx)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d items failed to sync", summary.Failed)
	}
	return nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return hasRuntimeAPI
}
