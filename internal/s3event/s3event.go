// Package s3event reads object keys out of S3 notifications.
package s3event

import (
	"fmt"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
)

// ObjectKey returns the decoded object key of a record. Notification keys are
// URL-encoded with spaces as '+'.
func ObjectKey(record events.S3EventRecord) (string, error) {
	key, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		return "", fmt.Errorf("failed to decode object key %q: %w", record.S3.Object.Key, err)
	}
	return key, nil
}

// Single wraps one record in an event of its own.
func Single(record events.S3EventRecord) events.S3Event {
	return events.S3Event{Records: []events.S3EventRecord{record}}
}
