// Package awsclient builds the AWS SDK clients shared by the Lambdas.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
)

// Clients holds one client per service. They are safe for concurrent use and
// meant to be created once per cold start.
type Clients struct {
	Config    aws.Config
	S3        *s3.Client
	Presigner *s3.PresignClient
	DynamoDB  *dynamodb.Client
	SFN       *sfn.Client
	Cognito   *cip.Client
	Lambda    *lambda.Client
}

// New loads the default AWS configuration and creates the clients.
func New(ctx context.Context) (*Clients, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return FromConfig(cfg), nil
}

// FromConfig creates the clients from cfg.
func FromConfig(cfg aws.Config) *Clients {
	s3Client := s3.NewFromConfig(cfg)
	return &Clients{
		Config:    cfg,
		S3:        s3Client,
		Presigner: s3.NewPresignClient(s3Client),
		DynamoDB:  dynamodb.NewFromConfig(cfg),
		SFN:       sfn.NewFromConfig(cfg),
		Cognito:   cip.NewFromConfig(cfg),
		Lambda:    lambda.NewFromConfig(cfg),
	}
}
