package kex

import (
	"bytes"
	"testing"

	"github.com/mowzhja/harpocrates/internal/fault"
)

func mustGenerate(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return kp
}

// TestDeriveSymmetry checks that both sides of independent key pairs compute
// the same 32-byte shared secret.
func TestDeriveSymmetry(t *testing.T) {
	for i := 0; i < 20; i++ {
		a, b := mustGenerate(t), mustGenerate(t)
		pubA, pubB := a.Public(), b.Public()

		sa, err := a.Derive(pubB)
		if err != nil {
			t.Fatalf("A derive failed: %v", err)
		}
		sb, err := b.Derive(pubA)
		if err != nil {
			t.Fatalf("B derive failed: %v", err)
		}

		if len(sa.Bytes()) != SharedKeySize {
			t.Fatalf("shared secret is %d bytes", len(sa.Bytes()))
		}
		if !bytes.Equal(sa.Bytes(), sb.Bytes()) {
			t.Fatalf("shared secrets differ: %x != %x", sa.Bytes(), sb.Bytes())
		}
	}
}

func TestGenerateIsFresh(t *testing.T) {
	a, b := mustGenerate(t), mustGenerate(t)
	if bytes.Equal(a.Public(), b.Public()) {
		t.Fatal("two generated key pairs share a public key")
	}
}

func TestDeriveIsSingleUse(t *testing.T) {
	a, b := mustGenerate(t), mustGenerate(t)
	if _, err := a.Derive(b.Public()); err != nil {
		t.Fatalf("first derive failed: %v", err)
	}
	if _, err := a.Derive(b.Public()); err != ErrKeyConsumed {
		t.Fatalf("second derive: got %v, want ErrKeyConsumed", err)
	}
	if a.scalar != [32]byte{} {
		t.Fatal("scalar not wiped after derivation")
	}
}

func TestDeriveRejectsInvalidPublicKey(t *testing.T) {
	testCases := []struct {
		name string
		pub  []byte
	}{
		{"empty", nil},
		{"short", make([]byte, 31)},
		{"long", make([]byte, 33)},
		{"uncompressed P-256 shape", append([]byte{0x04}, make([]byte, 64)...)},
		{"low order point (zero)", make([]byte, 32)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			kp := mustGenerate(t)
			s, err := kp.Derive(tc.pub)
			if !fault.Is(err, fault.InvalidPublicKey) {
				t.Fatalf("expected InvalidPublicKey, got %v", err)
			}
			if s != nil {
				t.Fatal("secret returned for an invalid key")
			}
			if kp.scalar != [32]byte{} {
				t.Fatal("scalar not wiped on the error path")
			}
		})
	}
}

func TestSessionKeysAgreeAndSeparate(t *testing.T) {
	a, b := mustGenerate(t), mustGenerate(t)
	transcript := Transcript(a.Public(), b.Public())

	sa, err := a.Derive(b.Public())
	if err != nil {
		t.Fatal(err)
	}
	sb, err := b.Derive(a.Public())
	if err != nil {
		t.Fatal(err)
	}

	ka, err := SessionKeys(sa, transcript)
	if err != nil {
		t.Fatal(err)
	}
	kb, err := SessionKeys(sb, transcript)
	if err != nil {
		t.Fatal(err)
	}

	if *ka != *kb {
		t.Fatal("both sides derived different keys")
	}
	if ka.Session == ka.InitiatorMAC || ka.InitiatorMAC == ka.ResponderMAC {
		t.Fatal("derived keys are not domain separated")
	}
	if bytes.Equal(ka.Session[:], sa.Bytes()) {
		t.Fatal("session key equals the raw shared secret")
	}

	kc, err := SessionKeys(sa, Transcript(b.Public(), a.Public()))
	if err != nil {
		t.Fatal(err)
	}
	if kc.Session == ka.Session {
		t.Fatal("transcript order does not affect the session key")
	}

	ka.Wipe()
	if ka.Session != [SessionKeySize]byte{} {
		t.Fatal("Wipe left key material behind")
	}
}
