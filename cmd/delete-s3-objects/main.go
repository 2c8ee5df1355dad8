// Package main is the entry point for the Lambda function that deletes a
// customer's input and output objects.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/siftbeam/upload-pipeline/internal/app"
	"github.com/siftbeam/upload-pipeline/internal/config"
	"github.com/siftbeam/upload-pipeline/internal/teardown"
)

func main() {
	a, err := app.New(context.Background(), config.EnvBucketName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "delete-s3-objects: %v\n", err)
		os.Exit(1)
	}

	sweeper := teardown.NewObjectSweeper(a.Objects(), a.Config.BucketName, a.Logger)

	lambda.Start(app.Handler(a.Warmer, teardown.Handle("Failed to delete S3 objects", sweeper.Sweep)))
}
