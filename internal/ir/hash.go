package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainMessage prefixes message digests. The version suffix allows a later
// change of encoding without colliding with stored digests.
const DomainMessage = "replica/message/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DigestBytes returns the content digest of an encoded frame. Stores use it
// to detect records that were altered after being written.
func DigestBytes(frame []byte) string {
	return hashWithDomain(DomainMessage, frame)
}
