// Package main is the entry point for the Lambda function notified when an
// input object is created. It completes the upload of a batch once its
// sentinel arrives and forwards the event to the trigger function.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/siftbeam/upload-pipeline/internal/app"
	"github.com/siftbeam/upload-pipeline/internal/completion"
	"github.com/siftbeam/upload-pipeline/internal/config"
)

func main() {
	a, err := app.New(context.Background(), config.EnvBucketName, config.EnvHistoryTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "s3-event: %v\n", err)
		os.Exit(1)
	}

	if a.Config.TriggerFunctionName == "" {
		a.Logger.Warn("trigger function not configured, completed batches will not be forwarded")
	}

	detector := completion.New(a.Histories(), a.Objects(), a.Logger,
		completion.WithForwarder(a.Invoker, a.Config.TriggerFunctionName))

	lambda.Start(app.Handler(a.Warmer, detector.Handle))
}
