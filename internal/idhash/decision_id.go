package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"solana-order-router/internal/domain"
)

// ComputeDecisionID computes a deterministic decision_id using SHA256.
// Formula: SHA256(order_id|chosen_venue|decided_at)
// Returns hex-encoded hash (64 characters).
func ComputeDecisionID(orderID string, venue domain.Venue, decidedAt int64) string {
	data := fmt.Sprintf("%s|%s|%d", orderID, string(venue), decidedAt)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
