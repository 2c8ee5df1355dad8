// Package orchestrator starts Step Functions executions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"

	"github.com/siftbeam/upload-pipeline/internal/domain"
)

// SFNAPI is the subset of the Step Functions client used here.
type SFNAPI interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// StepFunctions is a domain.Orchestrator for one state machine.
type StepFunctions struct {
	client          SFNAPI
	stateMachineARN string
}

// New creates an orchestrator for stateMachineARN.
func New(client SFNAPI, stateMachineARN string) *StepFunctions {
	return &StepFunctions{client: client, stateMachineARN: stateMachineARN}
}

// StartExecution implements domain.Orchestrator.
func (s *StepFunctions) StartExecution(ctx context.Context, name string, input []byte) (string, error) {
	out, err := s.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(s.stateMachineARN),
		Name:            aws.String(name),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		var exists *types.ExecutionAlreadyExists
		if errors.As(err, &exists) {
			return "", fmt.Errorf("execution %s: %w", name, domain.ErrExecutionAlreadyExists)
		}
		return "", domain.DependencyError("start execution "+name, err)
	}
	return aws.ToString(out.ExecutionArn), nil
}

var (
	_ domain.Orchestrator = (*StepFunctions)(nil)

	_ SFNAPI = (*sfn.Client)(nil)
)
