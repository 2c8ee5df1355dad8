// Package chunker splits work into batches accepted by AWS batch APIs.
package chunker

// Batch size limits of the AWS APIs we call.
const (
	// MaxDeleteObjects is the DeleteObjects limit per request.
	MaxDeleteObjects = 1000
	// MaxBatchWriteItems is the BatchWriteItem limit per request.
	MaxBatchWriteItems = 25
)

// Chunk splits items into consecutive batches of at most size items.
// Order is preserved and the last batch may be shorter.
// Returns nil for empty input; a non-positive size yields a single batch.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}

	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		// Cap the capacity so appends to a chunk never overwrite the next one
		chunks = append(chunks, items[start:end:end])
	}

	return chunks
}
