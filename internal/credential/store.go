// Package credential keeps the server-side authentication records. A record
// never holds the password or the salted password, only the keys derived
// from it (StoredKey and ServerKey) plus the parameters needed to re-derive them.
package credential

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"

	"github.com/mowzhja/harpocrates/internal/auth"
)

const (
	// SaltSize is the salt length used for new records.
	SaltSize = 16

	// DecoyKeySize is the length of the key decoy salts are derived from.
	DecoyKeySize = 32
)

// Record is one user's credential.
type Record struct {
	Identity  string
	Params    auth.Params
	StoredKey []byte
	ServerKey []byte
}

// NewRecord derives a record for identity from password. A nil salt in
// params is replaced by a random one.
func NewRecord(identity string, password []byte, params auth.Params) (Record, error) {
	if err := auth.ValidateIdentity(identity); err != nil {
		return Record{}, err
	}
	if params.Salt == nil {
		params.Salt = make([]byte, SaltSize)
		if _, err := rand.Read(params.Salt); err != nil {
			return Record{}, fmt.Errorf("read salt: %w", err)
		}
	}
	if err := params.Validate(); err != nil {
		return Record{}, err
	}

	salted := auth.SaltedPassword(password, params)
	defer clear(salted)
	clientKey := auth.ClientKey(salted)
	defer clear(clientKey)

	return Record{
		Identity:  identity,
		Params:    params,
		StoredKey: auth.StoredKey(clientKey),
		ServerKey: auth.ServerKey(salted),
	}, nil
}

// Store is an in-memory credential table, safe for concurrent use. It
// implements auth.Verifier and auth.Signer.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record

	decoyKey  [DecoyKeySize]byte // persisted by Export so decoy salts survive restarts
	decoyCost auth.Params
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{
		records:   make(map[string]Record),
		decoyCost: auth.DefaultParams(nil),
	}
	rand.Read(s.decoyKey[:])
	return s
}

// Put adds or replaces a record.
func (s *Store) Put(rec Record) error {
	if err := auth.ValidateIdentity(rec.Identity); err != nil {
		return err
	}
	if err := rec.Params.Validate(); err != nil {
		return fmt.Errorf("record %q: %w", rec.Identity, err)
	}
	if len(rec.StoredKey) != sha256.Size || len(rec.ServerKey) != sha256.Size {
		return fmt.Errorf("record %q: keys must be %d bytes", rec.Identity, sha256.Size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Identity] = rec
	s.decoyCost = auth.Params{Time: rec.Params.Time, Memory: rec.Params.Memory, Threads: rec.Params.Threads}
	return nil
}

// Delete removes identity and reports whether it was present.
func (s *Store) Delete(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[identity]
	delete(s.records, identity)
	return ok
}

// Lookup returns the record for identity.
func (s *Store) Lookup(identity string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[identity]
	return rec, ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Records returns a snapshot sorted by identity.
func (s *Store) Records() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Params returns the stretching parameters for identity. Unknown identities
// get a salt that is stable per identity but unrelated to any record, so a
// challenge alone does not reveal whether the identity exists.
func (s *Store) Params(identity string) (auth.Params, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.records[identity]; ok {
		return rec.Params, nil
	}
	p := s.decoyCost
	p.Salt = s.decoy("salt", identity)[:SaltSize]
	return p, nil
}

// VerifyChallengeResponse implements auth.Verifier. Unknown identities are
// checked against a decoy key so both paths cost the same.
func (s *Store) VerifyChallengeResponse(identity string, authMessage, proof []byte) bool {
	rec, ok := s.Lookup(identity)
	if !ok {
		s.mu.RLock()
		stored := s.decoy("stored-key", identity)
		s.mu.RUnlock()
		auth.CheckProof(stored, authMessage, proof)
		return false
	}
	return auth.CheckProof(rec.StoredKey, authMessage, proof)
}

// decoy derives per-identity filler for unknown identities. s.mu must be
// held.
func (s *Store) decoy(label, identity string) []byte {
	mac := hmac.New(sha256.New, s.decoyKey[:])
	mac.Write([]byte(label))
	mac.Write([]byte{0})
	mac.Write([]byte(identity))
	return mac.Sum(nil)
}

// ServerSignature implements auth.Signer.
func (s *Store) ServerSignature(identity string, authMessage, proof []byte) ([]byte, error) {
	rec, ok := s.Lookup(identity)
	if !ok {
		return nil, fmt.Errorf("no credential for %q", identity)
	}
	return auth.ServerSignature(rec.ServerKey, authMessage, proof), nil
}
