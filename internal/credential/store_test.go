package credential

import (
	"bytes"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mowzhja/harpocrates/internal/auth"
)

var cheap = auth.Params{Time: 1, Memory: 64, Threads: 1}

func mustRecord(t *testing.T, identity, password string) Record {
	t.Helper()
	rec, err := NewRecord(identity, []byte(password), cheap)
	if err != nil {
		t.Fatalf("NewRecord(%q): %v", identity, err)
	}
	return rec
}

func proofFor(t *testing.T, s *Store, identity, password string, am []byte) []byte {
	t.Helper()
	p, err := s.Params(identity)
	if err != nil {
		t.Fatal(err)
	}
	salted := auth.SaltedPassword([]byte(password), p)
	return auth.ClientProof(auth.ClientKey(salted), am)
}

func TestStoreVerifies(t *testing.T) {
	s := NewStore()
	if err := s.Put(mustRecord(t, "alice", "alicespass")); err != nil {
		t.Fatal(err)
	}
	am := auth.AuthMessage(bytes.Repeat([]byte{7}, 32), bytes.Repeat([]byte{9}, auth.NonceSize))

	testCases := []struct {
		name     string
		identity string
		password string
		want     bool
	}{
		{"correct", "alice", "alicespass", true},
		{"wrong password", "alice", "bobspass", false},
		{"unknown identity", "bob", "alicespass", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			proof := proofFor(t, s, tc.identity, tc.password, am)
			if got := s.VerifyChallengeResponse(tc.identity, am, proof); got != tc.want {
				t.Fatalf("VerifyChallengeResponse = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestServerSignatureMatchesInitiator(t *testing.T) {
	s := NewStore()
	s.Put(mustRecord(t, "alice", "pw"))
	am := auth.AuthMessage(bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, auth.NonceSize))

	p, _ := s.Params("alice")
	salted := auth.SaltedPassword([]byte("pw"), p)
	proof := auth.ClientProof(auth.ClientKey(salted), am)

	sig, err := s.ServerSignature("alice", am, proof)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(sig, auth.ServerSignature(auth.ServerKey(salted), am, proof)) {
		t.Fatal("server signature does not match the initiator's expectation")
	}
	if _, err := s.ServerSignature("nobody", am, proof); err == nil {
		t.Fatal("signature produced for an unknown identity")
	}
}

func TestDecoyParams(t *testing.T) {
	s := NewStore()
	s.Put(mustRecord(t, "alice", "pw"))

	a, _ := s.Params("mallory")
	b, _ := s.Params("mallory")
	c, _ := s.Params("trudy")
	if err := a.Validate(); err != nil {
		t.Fatalf("decoy params invalid: %v", err)
	}
	if !bytes.Equal(a.Salt, b.Salt) {
		t.Fatal("decoy salt is not stable per identity")
	}
	if bytes.Equal(a.Salt, c.Salt) {
		t.Fatal("decoy salt identical across identities")
	}
	if a.Time != cheap.Time || a.Memory != cheap.Memory || a.Threads != cheap.Threads {
		t.Fatalf("decoy cost %+v differs from stored records", a)
	}
}

func TestUnknownIdentityRunsProofCheck(t *testing.T) {
	s := NewStore()
	s.Put(mustRecord(t, "alice", "pw"))
	am := auth.AuthMessage(bytes.Repeat([]byte{7}, 32), bytes.Repeat([]byte{9}, auth.NonceSize))

	// A proof built from the decoy salt still fails for an unknown identity.
	proof := proofFor(t, s, "mallory", "pw", am)
	if s.VerifyChallengeResponse("mallory", am, proof) {
		t.Fatal("unknown identity verified")
	}
}

func TestDecoySaltSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.csv")
	s := NewStore()
	s.Put(mustRecord(t, "alice", "pw"))
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	before, _ := s.Params("mallory")

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	after, _ := loaded.Params("mallory")
	if !bytes.Equal(before.Salt, after.Salt) {
		t.Fatal("decoy salt changed across a reload")
	}
	if loaded.Len() != 1 {
		t.Fatalf("decoy row counted as a record: %d records", loaded.Len())
	}
}

func TestCSVRoundTrip(t *testing.T) {
	s := NewStore()
	s.Put(mustRecord(t, "bob", "bobspass"))
	s.Put(mustRecord(t, "alice", "alicespass"))

	var buf bytes.Buffer
	if err := s.Export(&buf); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(buf.String(), "\n")
	if len(lines) < 4 || lines[0] != "user,salt,time,memory,threads,storedKey,serverKey" ||
		!strings.HasPrefix(lines[1], ",") || !strings.HasPrefix(lines[2], "alice,") {
		t.Fatalf("unexpected CSV layout:\n%s", buf.String())
	}

	loaded := NewStore()
	if err := loaded.Import(&buf); err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("loaded %d records", loaded.Len())
	}
	for _, want := range s.Records() {
		got, ok := loaded.Lookup(want.Identity)
		if !ok {
			t.Fatalf("%s missing", want.Identity)
		}
		if !bytes.Equal(got.StoredKey, want.StoredKey) || !bytes.Equal(got.ServerKey, want.ServerKey) ||
			!bytes.Equal(got.Params.Salt, want.Params.Salt) || got.Params.Memory != want.Params.Memory {
			t.Fatalf("%s changed across the round trip", want.Identity)
		}
	}
}

func TestImportRejectsBadRows(t *testing.T) {
	good := mustRecord(t, "alice", "pw")
	var buf bytes.Buffer
	s := NewStore()
	s.Put(good)
	s.Export(&buf)
	row := strings.Split(strings.TrimSpace(strings.Split(buf.String(), "\n")[2]), ",")

	mutate := func(i int, v string) string {
		r := append([]string(nil), row...)
		r[i] = v
		return strings.Join(r, ",") + "\n"
	}

	testCases := []struct {
		name string
		csv  string
	}{
		{"bad salt hex", mutate(1, "zz")},
		{"bad time", mutate(2, "x")},
		{"zero threads", mutate(4, "0")},
		{"short stored key", mutate(5, "abcd")},
		{"empty identity", mutate(0, "")},
		{"missing column", "alice,00\n"},
		{"short decoy key", ",abcd,,,,,\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := NewStore().Import(strings.NewReader(tc.csv)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.csv")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if s.Len() != 0 {
		t.Fatal("store from a missing file is not empty")
	}

	s.Put(mustRecord(t, "alice", "pw"))
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := again.Lookup("alice"); !ok {
		t.Fatal("saved record not loaded")
	}
	if !again.Delete("alice") || again.Delete("alice") {
		t.Fatal("Delete reported the wrong presence")
	}
}

func TestConcurrentLookups(t *testing.T) {
	s := NewStore()
	s.Put(mustRecord(t, "alice", "pw"))
	am := bytes.Repeat([]byte{3}, 32)
	proof := proofFor(t, s, "alice", "pw", am)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if !s.VerifyChallengeResponse("alice", am, proof) {
					t.Error("verification failed under concurrency")
					return
				}
				s.Params("someone-else")
			}
		}()
	}
	wg.Wait()
}
