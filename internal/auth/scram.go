// Package auth implements the challenge-response authentication that runs
// once a session key exists. The exchange is shaped after SCRAM (RFC 5802):
// the responder never sees the password and the initiator never sends it,
// only a proof bound to a fresh nonce and to the session key.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

const (
	NonceSize       = 16
	ProofSize       = sha256.Size
	KeySize         = 32
	MaxIdentitySize = 255

	bindingLabel = "harpocrates auth"
)

// Params are the per-credential key-stretching parameters sent with a challenge.
type Params struct {
	Salt    []byte
	Time    uint32 // argon2id passes
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultParams returns the argon2id cost used for new credentials.
func DefaultParams(salt []byte) Params {
	return Params{Salt: salt, Time: 3, Memory: 64 * 1024, Threads: 4}
}

// SaltedPassword stretches a password with argon2id.
func SaltedPassword(password []byte, p Params) []byte {
	return argon2.IDKey(password, p.Salt, p.Time, p.Memory, p.Threads, KeySize)
}

// ClientKey is HMAC(SaltedPassword, "Client Key").
func ClientKey(salted []byte) []byte {
	return hmacSum(salted, []byte("Client Key"))
}

// ServerKey is HMAC(SaltedPassword, "Server Key").
func ServerKey(salted []byte) []byte {
	return hmacSum(salted, []byte("Server Key"))
}

// StoredKey is SHA256(ClientKey). It is what a credential store keeps.
func StoredKey(clientKey []byte) []byte {
	sum := sha256.Sum256(clientKey)
	return sum[:]
}

// AuthMessage binds a challenge nonce to the session key, so a proof is only
// meaningful inside the session that produced it.
func AuthMessage(sessionKey, nonce []byte) []byte {
	msg := make([]byte, 0, len(bindingLabel)+len(nonce))
	msg = append(msg, bindingLabel...)
	msg = append(msg, nonce...)
	return hmacSum(sessionKey, msg)
}

// ClientProof is ClientKey XOR HMAC(StoredKey, AuthMessage).
func ClientProof(clientKey, authMessage []byte) []byte {
	sig := hmacSum(StoredKey(clientKey), authMessage)
	proof := make([]byte, ProofSize)
	subtle.XORBytes(proof, clientKey, sig)
	return proof
}

// CheckProof recovers the ClientKey from a proof and compares its hash with
// the stored key in constant time.
func CheckProof(storedKey, authMessage, proof []byte) bool {
	if len(proof) != ProofSize || len(storedKey) != sha256.Size {
		return false
	}
	sig := hmacSum(storedKey, authMessage)
	clientKey := make([]byte, ProofSize)
	subtle.XORBytes(clientKey, proof, sig)
	expected := sha256.Sum256(clientKey)
	clear(clientKey)
	return subtle.ConstantTimeCompare(expected[:], storedKey) == 1
}

// ServerSignature is HMAC(ServerKey, AuthMessage || ClientProof).
func ServerSignature(serverKey, authMessage, proof []byte) []byte {
	msg := make([]byte, 0, len(authMessage)+len(proof))
	msg = append(msg, authMessage...)
	msg = append(msg, proof...)
	return hmacSum(serverKey, msg)
}

func hmacSum(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
