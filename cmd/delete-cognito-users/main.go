// Package main is the entry point for the Lambda function that deletes a
// customer's users from the Cognito user pool.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/siftbeam/upload-pipeline/internal/app"
	"github.com/siftbeam/upload-pipeline/internal/config"
	"github.com/siftbeam/upload-pipeline/internal/directory"
	"github.com/siftbeam/upload-pipeline/internal/teardown"
)

func main() {
	a, err := app.New(context.Background(), config.EnvUserPoolID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "delete-cognito-users: %v\n", err)
		os.Exit(1)
	}

	sweeper := teardown.NewUserSweeper(directory.New(a.Clients.Cognito, a.Config.UserPoolID), a.Logger)

	lambda.Start(app.Handler(a.Warmer, teardown.Handle("Failed to delete Cognito users", sweeper.Sweep)))
}
