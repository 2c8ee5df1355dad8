// Package main is the entry point for the Lambda function that deletes a
// customer's records from every application table.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/siftbeam/upload-pipeline/internal/app"
	"github.com/siftbeam/upload-pipeline/internal/kvstore"
	"github.com/siftbeam/upload-pipeline/internal/teardown"
)

func main() {
	a, err := app.New(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "delete-dynamodb-records: %v\n", err)
		os.Exit(1)
	}

	tables := teardown.ResolveTables(teardown.DefaultTables(), os.Getenv)
	a.Logger.Info("record teardown configured",
		zap.Int("tables", len(tables)),
		zap.String("index", a.Config.CustomerIndex))

	sweeper := teardown.NewRecordSweeper(kvstore.NewRecordStore(a.Clients.DynamoDB), tables, a.Config.CustomerIndex, a.Logger)

	lambda.Start(app.Handler(a.Warmer, teardown.Handle("Failed to delete DynamoDB records", sweeper.Sweep)))
}
