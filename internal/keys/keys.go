// Package keys builds and parses the object storage layout
// service/{kind}/{customerId}/{processingHistoryId}/[...]{fileName}.
package keys

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/siftbeam/upload-pipeline/internal/domain"
)

// Root is the first segment of every service key.
const Root = "service"

// SentinelName is the file name of the per-batch trigger object.
const SentinelName = "_trigger.json"

// Kind classifies an object.
type Kind string

// Object kinds.
const (
	KindInput  Kind = "input"
	KindOutput Kind = "output"
	KindTemp   Kind = "temp"
)

// minSegments is service/kind/customerId/processingHistoryId/fileName.
const minSegments = 5

var (
	unsafeChars      = regexp.MustCompile(`[^A-Za-z0-9_.\-\s]`)
	repeatedUnderbar = regexp.MustCompile(`_+`)
)

// Path is a decoded object key.
type Path struct {
	Kind                Kind
	CustomerID          string
	ProcessingHistoryID string
	// SubPath holds the segments between the history id and the file name,
	// e.g. the step name of temp objects.
	SubPath  []string
	FileName string
}

// IsSentinel reports whether the path names a batch's trigger object.
func (p Path) IsSentinel() bool {
	return p.FileName == SentinelName && len(p.SubPath) == 0
}

// String re-encodes the path without sanitizing.
func (p Path) String() string {
	segments := []string{Root, string(p.Kind), p.CustomerID, p.ProcessingHistoryID}
	segments = append(segments, p.SubPath...)
	return strings.Join(append(segments, p.FileName), "/")
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindInput, KindOutput, KindTemp:
		return true
	}
	return false
}

// SanitizeFileName replaces characters outside [A-Za-z0-9_.-\s] with "_",
// collapses runs of "_" and trims leading and trailing "_" and spaces.
func SanitizeFileName(name string) string {
	sanitized := unsafeChars.ReplaceAllString(name, "_")
	sanitized = repeatedUnderbar.ReplaceAllString(sanitized, "_")
	return strings.Trim(sanitized, "_ ")
}

// Encode builds the key of a file of a batch.
func Encode(kind Kind, customerID, processingHistoryID, fileName string) string {
	return EncodeWithin(kind, customerID, processingHistoryID, nil, fileName)
}

// EncodeWithin builds the key of a file nested below the batch directory.
func EncodeWithin(kind Kind, customerID, processingHistoryID string, subPath []string, fileName string) string {
	return Path{
		Kind:                kind,
		CustomerID:          customerID,
		ProcessingHistoryID: processingHistoryID,
		SubPath:             subPath,
		FileName:            SanitizeFileName(fileName),
	}.String()
}

// SentinelKey builds the key of a batch's trigger object.
func SentinelKey(customerID, processingHistoryID string) string {
	return Path{
		Kind:                KindInput,
		CustomerID:          customerID,
		ProcessingHistoryID: processingHistoryID,
		FileName:            SentinelName,
	}.String()
}

// CustomerPrefix is the prefix under which every object of a customer and kind lives.
func CustomerPrefix(kind Kind, customerID string) string {
	return fmt.Sprintf("%s/%s/%s/", Root, kind, customerID)
}

// Decode parses an object key. Identifiers are opaque and never validated here.
func Decode(key string) (Path, error) {
	parts := strings.Split(key, "/")
	if len(parts) < minSegments {
		return Path{}, &domain.InvalidPathError{
			Path:   key,
			Reason: fmt.Sprintf("expected at least %d segments, got %d", minSegments, len(parts)),
		}
	}
	if parts[0] != Root {
		return Path{}, &domain.InvalidPathError{
			Path:   key,
			Reason: fmt.Sprintf("expected %q root, got %q", Root, parts[0]),
		}
	}
	kind := Kind(parts[1])
	if !kind.Valid() {
		return Path{}, &domain.InvalidPathError{
			Path:   key,
			Reason: fmt.Sprintf("expected input/output/temp, got %q", parts[1]),
		}
	}

	p := Path{
		Kind:                kind,
		CustomerID:          parts[2],
		ProcessingHistoryID: parts[3],
		FileName:            parts[len(parts)-1],
	}
	if len(parts) > minSegments {
		p.SubPath = append([]string(nil), parts[4:len(parts)-1]...)
	}
	return p, nil
}
