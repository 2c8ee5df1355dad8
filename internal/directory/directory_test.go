package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"github.com/siftbeam/upload-pipeline/internal/domain"
)

type fakeCognito struct {
	listInputs []*cip.ListUsersInput
	deleted    []string
	deleteErr  error
}

func (f *fakeCognito) ListUsers(_ context.Context, in *cip.ListUsersInput, _ ...func(*cip.Options)) (*cip.ListUsersOutput, error) {
	f.listInputs = append(f.listInputs, in)
	if in.PaginationToken == nil {
		return &cip.ListUsersOutput{
			Users:           []types.UserType{{Username: aws.String("alice")}, {Username: aws.String("bob")}},
			PaginationToken: aws.String("next"),
		}, nil
	}
	return &cip.ListUsersOutput{Users: []types.UserType{{Username: aws.String("carol")}}}, nil
}

func (f *fakeCognito) AdminDeleteUser(_ context.Context, in *cip.AdminDeleteUserInput, _ ...func(*cip.Options)) (*cip.AdminDeleteUserOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deleted = append(f.deleted, aws.ToString(in.Username))
	return &cip.AdminDeleteUserOutput{}, nil
}

func TestCustomerFilter(t *testing.T) {
	tests := []struct {
		customerID string
		expected   string
	}{
		{"cus_1", `"custom:customerId" = "cus_1"`},
		{`we"ird`, `"custom:customerId" = "we\"ird"`},
	}

	for _, tt := range tests {
		t.Run(tt.customerID, func(t *testing.T) {
			if got := CustomerFilter(tt.customerID); got != tt.expected {
				t.Errorf("CustomerFilter(%q) = %s, want %s", tt.customerID, got, tt.expected)
			}
		})
	}
}

func TestListUsersByCustomer(t *testing.T) {
	client := &fakeCognito{}
	d := New(client, "pool_1")

	first, err := d.ListUsersByCustomer(context.Background(), "cus_1", "")
	if err != nil {
		t.Fatalf("ListUsersByCustomer() unexpected error: %v", err)
	}
	if len(first.Usernames) != 2 || first.NextToken != "next" {
		t.Errorf("first page = %+v", first)
	}
	in := client.listInputs[0]
	if aws.ToInt32(in.Limit) != 60 || aws.ToString(in.UserPoolId) != "pool_1" {
		t.Errorf("ListUsers input = %+v", in)
	}

	second, err := d.ListUsersByCustomer(context.Background(), "cus_1", first.NextToken)
	if err != nil {
		t.Fatalf("ListUsersByCustomer() unexpected error: %v", err)
	}
	if len(second.Usernames) != 1 || second.NextToken != "" {
		t.Errorf("second page = %+v", second)
	}
}

func TestDeleteUser(t *testing.T) {
	client := &fakeCognito{}
	d := New(client, "pool_1")
	if err := d.DeleteUser(context.Background(), "alice"); err != nil {
		t.Fatalf("DeleteUser() unexpected error: %v", err)
	}
	if len(client.deleted) != 1 || client.deleted[0] != "alice" {
		t.Errorf("deleted = %v", client.deleted)
	}

	client.deleteErr = errors.New("denied")
	if err := d.DeleteUser(context.Background(), "bob"); !errors.Is(err, domain.ErrDependency) {
		t.Errorf("DeleteUser() error = %v, want ErrDependency", err)
	}
}
