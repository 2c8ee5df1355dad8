// Package directory implements domain.Directory on a Cognito user pool.
package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"

	"github.com/siftbeam/upload-pipeline/internal/domain"
)

// CustomerAttribute is the custom user attribute carrying the customer id.
const CustomerAttribute = "custom:customerId"

// PageLimit is the largest page ListUsers accepts.
const PageLimit = 60

// CognitoAPI is the subset of the Cognito client used here.
type CognitoAPI interface {
	ListUsers(ctx context.Context, params *cip.ListUsersInput, optFns ...func(*cip.Options)) (*cip.ListUsersOutput, error)
	AdminDeleteUser(ctx context.Context, params *cip.AdminDeleteUserInput, optFns ...func(*cip.Options)) (*cip.AdminDeleteUserOutput, error)
}

// Cognito is a user pool.
type Cognito struct {
	client     CognitoAPI
	userPoolID string
}

// New creates a directory for userPoolID.
func New(client CognitoAPI, userPoolID string) *Cognito {
	return &Cognito{client: client, userPoolID: userPoolID}
}

// ListUsersByCustomer implements domain.Directory.
func (c *Cognito) ListUsersByCustomer(ctx context.Context, customerID, paginationToken string) (*domain.UserPage, error) {
	input := &cip.ListUsersInput{
		UserPoolId: aws.String(c.userPoolID),
		Filter:     aws.String(CustomerFilter(customerID)),
		Limit:      aws.Int32(PageLimit),
	}
	if paginationToken != "" {
		input.PaginationToken = aws.String(paginationToken)
	}

	out, err := c.client.ListUsers(ctx, input)
	if err != nil {
		return nil, domain.DependencyError("list users", err)
	}

	page := &domain.UserPage{NextToken: aws.ToString(out.PaginationToken)}
	for _, u := range out.Users {
		if name := aws.ToString(u.Username); name != "" {
			page.Usernames = append(page.Usernames, name)
		}
	}
	return page, nil
}

// DeleteUser implements domain.Directory.
func (c *Cognito) DeleteUser(ctx context.Context, username string) error {
	_, err := c.client.AdminDeleteUser(ctx, &cip.AdminDeleteUserInput{
		UserPoolId: aws.String(c.userPoolID),
		Username:   aws.String(username),
	})
	if err != nil {
		return domain.DependencyError("delete user "+username, err)
	}
	return nil
}

// CustomerFilter builds the ListUsers filter matching a customer id exactly.
func CustomerFilter(customerID string) string {
	escaped := strings.ReplaceAll(customerID, `"`, `\"`)
	return fmt.Sprintf(`"%s" = "%s"`, CustomerAttribute, escaped)
}

var (
	_ domain.Directory = (*Cognito)(nil)

	_ CognitoAPI = (*cip.Client)(nil)
)
