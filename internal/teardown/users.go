package teardown

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/siftbeam/upload-pipeline/internal/domain"
)

// UsersResult reports a directory sweep.
type UsersResult struct {
	StatusCode   int      `json:"statusCode"`
	DeletedUsers []string `json:"deletedUsers"`
	DeletedCount int      `json:"deletedCount"`
	TotalFound   int      `json:"totalFound"`
	CustomerID   string   `json:"customerId"`
	Message      string   `json:"message,omitempty"`
}

// UserSweeper deletes a customer's directory users.
type UserSweeper struct {
	directory domain.Directory
	logger    *zap.Logger
}

// NewUserSweeper creates a UserSweeper.
func NewUserSweeper(directory domain.Directory, logger *zap.Logger) *UserSweeper {
	return &UserSweeper{directory: directory, logger: logger}
}

// Sweep lists every user of the customer, then deletes them one by one.
// Listing completes before the first delete so pagination is not disturbed.
func (s *UserSweeper) Sweep(ctx context.Context, e Event) (*UsersResult, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("customerId", e.CustomerID), zap.String("executionId", e.executionID()))

	var usernames []string
	token := ""
	for {
		page, err := s.directory.ListUsersByCustomer(ctx, e.CustomerID, token)
		if err != nil {
			return nil, err
		}
		usernames = append(usernames, page.Usernames...)
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	result := &UsersResult{
		StatusCode:   http.StatusOK,
		DeletedUsers: []string{},
		TotalFound:   len(usernames),
		CustomerID:   e.CustomerID,
	}
	if len(usernames) == 0 {
		log.Info("no users found")
		result.Message = "No users found"
		return result, nil
	}

	for _, username := range usernames {
		if err := s.directory.DeleteUser(ctx, username); err != nil {
			log.Warn("failed to delete user", zap.String("username", username), zap.Error(err))
			continue
		}
		result.DeletedUsers = append(result.DeletedUsers, username)
	}
	result.DeletedCount = len(result.DeletedUsers)

	log.Info("users deleted", zap.Int("deletedCount", result.DeletedCount), zap.Int("totalFound", result.TotalFound))
	return result, nil
}
