package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"FundLedger/internal/ledger"
)

const ChecksumSeed = "FundLedger:batch:v1"

// BatchChecksum computes a hex SHA-256 over the batch header and its entries.
//
// digest = SHA-256(seed || id || date || category || total || entry...)
// with entries ordered by (commitment, code, id). Decimal amounts are hashed in
// their canonical text form, so 100 and 100.00 produce the same digest.
func BatchChecksum(b *ledger.Batch) string {
	hasher := sha256.New()

	write := func(s string) {
		hasher.Write([]byte(s))
		hasher.Write([]byte{0})
	}

	write(ChecksumSeed)
	write(b.ID.String())
	write(ledger.DateOf(b.BatchDate).Format("2006-01-02"))
	write(string(b.Category))
	write(b.Total.String())

	entries := append([]ledger.Entry(nil), b.Entries...)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CommitmentID != entries[j].CommitmentID {
			return entries[i].CommitmentID.String() < entries[j].CommitmentID.String()
		}
		if entries[i].Code != entries[j].Code {
			return entries[i].Code < entries[j].Code
		}
		return entries[i].ID.String() < entries[j].ID.String()
	})

	for _, e := range entries {
		write(e.ID.String())
		write(e.CommitmentID.String())
		write(string(e.Code))
		write(e.Amount.String())
	}

	return hex.EncodeToString(hasher.Sum(nil))
}

// VerifyChecksum reports whether b still matches the checksum stored at draft time.
func VerifyChecksum(b *ledger.Batch) bool {
	return b.Checksum != "" && b.Checksum == BatchChecksum(b)
}
