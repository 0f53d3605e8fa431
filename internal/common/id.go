package common

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// APIKeyPrefix marks worker credentials
const APIKeyPrefix = "dk_"

// NewJobID generates a unique job ID. Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewWorkerID generates a unique worker ID. Format: wkr_<uuid>
func NewWorkerID() string {
	return "wkr_" + uuid.New().String()
}

// NewBatchID generates a unique batch ID. Format: bat_<uuid>
func NewBatchID() string {
	return "bat_" + uuid.New().String()
}

// NewProxyID generates a unique proxy ID. Format: prx_<uuid>
func NewProxyID() string {
	return "prx_" + uuid.New().String()
}

// NewAPIKey generates a worker credential: dk_ followed by 32 random bytes, hex encoded
func NewAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(buf), nil
}

// HashAPIKey returns the SHA-256 hex digest stored in place of a credential
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}
