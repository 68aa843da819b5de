package tables

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const checksumPrefix = "sha256:"

// ComputeChecksum computes a SHA256 checksum for the given data.
func ComputeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return checksumPrefix + hex.EncodeToString(hash[:])
}

// VerifyChecksum verifies that data matches the expected checksum. The
// prefix is optional in expected.
func VerifyChecksum(data []byte, expected string) bool {
	if !strings.HasPrefix(expected, checksumPrefix) {
		expected = checksumPrefix + expected
	}
	return ComputeChecksum(data) == expected
}
