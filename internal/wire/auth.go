package wire

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// deriveProof computes the login proof sent in response to a server
// challenge: PBKDF2-HMAC-SHA256 over the password, salted and iterated per
// the server's handshake banner. This mirrors the teacher's SCRAM-SHA-256
// key derivation (internal/pool/scram.go in the reference repo) without the
// PostgreSQL-specific SASL message framing that derivation was embedded in
// — the compute-engine handshake here is a single challenge/proof exchange,
// not a multi-round SASL conversation.
func deriveProof(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)
}
