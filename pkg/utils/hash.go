package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// CalculateStringSHA256 computes the SHA-256 hash of a string.
func CalculateStringSHA256(content string) string {
	hash := sha256.New()
	hash.Write([]byte(content))
	return hex.EncodeToString(hash.Sum(nil))
}

// HashLinkSet computes an order-independent SHA-256 fingerprint of a set of URLs.
// Used to tell whether a site's product set changed between runs.
func HashLinkSet(links []string) string {
	sorted := make([]string, len(links))
	copy(sorted, links)
	sort.Strings(sorted)
	return CalculateStringSHA256(strings.Join(sorted, "\n"))
}
