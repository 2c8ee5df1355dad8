// Package main is the entry point for the Lambda function that starts the
// processing state machine for completed batches.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/siftbeam/upload-pipeline/internal/app"
	"github.com/siftbeam/upload-pipeline/internal/config"
	"github.com/siftbeam/upload-pipeline/internal/orchestrator"
	"github.com/siftbeam/upload-pipeline/internal/trigger"
)

func main() {
	a, err := app.New(context.Background(),
		config.EnvBucketName, config.EnvHistoryTable, config.EnvStateMachineARN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trigger: %v\n", err)
		os.Exit(1)
	}

	cfg := a.Config
	a.Logger.Info("trigger configured",
		zap.String("stateMachineArn", cfg.StateMachineARN),
		zap.String("manifestMismatchPolicy", cfg.ManifestMismatchPolicy))

	dispatcher := trigger.New(
		a.Histories(),
		a.Objects(),
		orchestrator.New(a.Clients.SFN, cfg.StateMachineARN),
		a.Logger,
		trigger.WithBlockOnMismatch(cfg.BlockOnManifestMismatch()),
	)

	lambda.Start(app.Handler(a.Warmer, dispatcher.Handle))
}
