package types

import (
	"time"

	"github.com/google/uuid"
)

// ProductID represents a UUIDv7 product identifier.
// String alias enables type safety while maintaining JSON string
// serialization. UUIDv7 time-ordering clusters inserts in B-tree indexes.
type ProductID string

// EvaluationID represents a UUIDv7 identifier for one evaluation run.
type EvaluationID string

// NewProductID generates a UUIDv7 product identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewProductID() ProductID {
	return ProductID(uuid.Must(uuid.NewV7()).String())
}

// NewEvaluationID generates a UUIDv7 evaluation identifier.
func NewEvaluationID() EvaluationID {
	return EvaluationID(uuid.Must(uuid.NewV7()).String())
}

// ParseProductID validates and converts a string to ProductID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the system.
func ParseProductID(s string) (ProductID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return ProductID(s), nil
}

// EvaluationIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func EvaluationIDTime(id EvaluationID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
