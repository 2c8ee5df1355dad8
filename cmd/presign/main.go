// Package main is the entry point for the POST /generate-upload-urls Lambda function.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/siftbeam/upload-pipeline/internal/app"
	"github.com/siftbeam/upload-pipeline/internal/config"
	"github.com/siftbeam/upload-pipeline/internal/handler"
	"github.com/siftbeam/upload-pipeline/internal/intake"
	"github.com/siftbeam/upload-pipeline/internal/kvstore"
)

func main() {
	a, err := app.New(context.Background(),
		config.EnvBucketName, config.EnvHistoryTable, config.EnvAPIKeyTable, config.EnvPolicyTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "presign: %v\n", err)
		os.Exit(1)
	}

	cfg := a.Config
	svc := intake.New(
		kvstore.NewIdentityStore(a.Clients.DynamoDB, cfg.APIKeyTable, cfg.PolicyTable),
		a.Histories(),
		a.Objects(),
		cfg.BucketName,
		cfg.PresignExpiration,
		a.Logger,
	)
	h := handler.New(svc, a.Logger)

	lambda.Start(app.Handler(a.Warmer, h.GenerateUploadURLs))
}
