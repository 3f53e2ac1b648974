package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func ApprovalPolicyKey() string {
	return "policy:approval"
}

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
