// Package invoke calls other Lambda functions.
package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// LambdaAPI is the subset of the Lambda client used here.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

var _ LambdaAPI = (*lambda.Client)(nil)

// Client invokes Lambda functions.
type Client struct {
	lambdaClient LambdaAPI
}

// New creates a Client.
func New(lambdaClient LambdaAPI) *Client {
	return &Client{lambdaClient: lambdaClient}
}

// Async queues an event invocation of functionName with payload marshalled
// to JSON. It returns once Lambda has accepted the event.
func (c *Client) Async(ctx context.Context, functionName string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	result, err := c.lambdaClient.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(functionName),
		InvocationType: types.InvocationTypeEvent,
		Payload:        data,
	})
	if err != nil {
		return fmt.Errorf("failed to invoke %s: %w", functionName, err)
	}

	if result.FunctionError != nil {
		return fmt.Errorf("lambda error: %s", *result.FunctionError)
	}
	if result.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status invoking %s: %d", functionName, result.StatusCode)
	}

	return nil
}
