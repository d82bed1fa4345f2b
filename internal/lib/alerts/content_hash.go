package alerts

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// HashText creates a content hash for spoken text so equivalent phrases share
// one synthesized clip
func HashText(text string) string {
	hash := sha256.Sum256([]byte(NormalizeText(text)))
	return fmt.Sprintf("%x", hash)
}

// NormalizeText lowercases and collapses whitespace
func NormalizeText(text string) string {
	normalized := strings.ToLower(text)
	normalized = whitespaceRe.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}
