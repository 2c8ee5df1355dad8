package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

type fakeLambda struct {
	input  *lambda.InvokeInput
	output *lambda.InvokeOutput
	err    error
}

func (f *fakeLambda) Invoke(_ context.Context, in *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.input = in
	return f.output, f.err
}

func TestAsync(t *testing.T) {
	tests := []struct {
		name        string
		output      *lambda.InvokeOutput
		err         error
		expectError bool
	}{
		{
			name:   "accepted",
			output: &lambda.InvokeOutput{StatusCode: 202},
		},
		{
			name:        "invoke failure",
			err:         errors.New("throttled"),
			expectError: true,
		},
		{
			name:        "function error",
			output:      &lambda.InvokeOutput{StatusCode: 202, FunctionError: aws.String("Unhandled")},
			expectError: true,
		},
		{
			name:        "unexpected status",
			output:      &lambda.InvokeOutput{StatusCode: 200},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeLambda{output: tt.output, err: tt.err}
			c := New(fake)

			err := c.Async(context.Background(), "siftbeam-trigger", map[string]string{"source": "test"})
			if tt.expectError {
				if err == nil {
					t.Error("Async() should have returned error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Async() unexpected error: %v", err)
			}

			if fake.input.InvocationType != types.InvocationTypeEvent {
				t.Errorf("InvocationType = %v, want Event", fake.input.InvocationType)
			}
			if aws.ToString(fake.input.FunctionName) != "siftbeam-trigger" {
				t.Errorf("FunctionName = %q", aws.ToString(fake.input.FunctionName))
			}
			var payload map[string]string
			if err := json.Unmarshal(fake.input.Payload, &payload); err != nil || payload["source"] != "test" {
				t.Errorf("Payload = %s", fake.input.Payload)
			}
		})
	}
}

func TestAsync_UnmarshalablePayload(t *testing.T) {
	c := New(&fakeLambda{})
	if err := c.Async(context.Background(), "f", make(chan int)); err == nil {
		t.Error("Async() should have returned error for a channel payload")
	}
}
