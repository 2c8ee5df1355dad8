package intake

import (
	"mime"
	"path/filepath"
	"strings"
)

// DefaultContentType is used when nothing better is known.
const DefaultContentType = "application/octet-stream"

const sentinelContentType = "application/json"

// ResolveContentType guesses the type of fileName from its extension. A guess
// the policy does not accept falls back to the policy's first accepted type.
func ResolveContentType(fileName string, accepted []string) string {
	if guess := guessContentType(fileName); guess != "" && contains(accepted, guess) {
		return guess
	}
	if len(accepted) > 0 {
		return accepted[0]
	}
	return DefaultContentType
}

func guessContentType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return ""
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return ""
	}
	// Drop parameters such as "; charset=utf-8".
	mediaType, _, err := mime.ParseMediaType(t)
	if err != nil {
		return ""
	}
	return mediaType
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
