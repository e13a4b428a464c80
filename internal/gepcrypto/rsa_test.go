package gepcrypto

import (
	"bytes"
	"testing"
)

func TestRSARoundTripBothSchemes(t *testing.T) {
	priv, pub, err := RSAGenerate(2048)
	if err != nil {
		t.Fatalf("RSAGenerate: %v", err)
	}

	for _, scheme := range []Scheme{PKCS1v15, OAEP} {
		msg := []byte("a content key or short message")
		ct, err := RSAEncrypt(pub, msg, scheme)
		if err != nil {
			t.Fatalf("RSAEncrypt(scheme=%v): %v", scheme, err)
		}
		pt, err := RSADecrypt(priv, ct, scheme)
		if err != nil {
			t.Fatalf("RSADecrypt(scheme=%v): %v", scheme, err)
		}
		if !bytes.Equal(pt, msg) {
			t.Fatalf("scheme %v round trip mismatch: got %q want %q", scheme, pt, msg)
		}
	}
}

func TestRSADerivePublicMatchesGenerated(t *testing.T) {
	priv, pub, err := RSAGenerate(2048)
	if err != nil {
		t.Fatalf("RSAGenerate: %v", err)
	}
	derived, err := RSADerivePublic(priv)
	if err != nil {
		t.Fatalf("RSADerivePublic: %v", err)
	}
	if !bytes.Equal(derived, pub) {
		t.Fatalf("derived public key does not match the one returned by RSAGenerate")
	}
}

func TestRSAEncryptRejectsUnknownScheme(t *testing.T) {
	_, pub, err := RSAGenerate(2048)
	if err != nil {
		t.Fatalf("RSAGenerate: %v", err)
	}
	if _, err := RSAEncrypt(pub, []byte("x"), Scheme(99)); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
}
