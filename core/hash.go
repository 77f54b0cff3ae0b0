package core

import (
	"crypto/sha256"
	"fmt"
)

// ComputeBidHash computes the audit hash for one bid in one auction.
//
// Formula: SHA256(request_id + "|" + dsp_id + "|" + sprintf("%.6f", price))
//
// The price is formatted to exactly 6 decimal places to ensure consistent
// hashing regardless of how the float is represented in memory.
func ComputeBidHash(requestID, dspID string, price float64) string {
	data := fmt.Sprintf("%s|%s|%.6f", requestID, dspID, price)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeSettlementHash computes the audit hash for a settled auction. Audit
// tooling recomputes it from the trace record to verify the settlement fields
// were not altered after the fact.
//
// Formula: SHA256(request_id + "|" + winner_dsp_id + "|" +
// sprintf("%.6f", paid_price) + "|" + sprintf("%.6f", saved_amount))
func ComputeSettlementHash(requestID, winnerDSPID string, paidPrice, savedAmount float64) string {
	data := fmt.Sprintf("%s|%s|%.6f|%.6f", requestID, winnerDSPID, paidPrice, savedAmount)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
