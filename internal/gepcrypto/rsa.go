package gepcrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"

	"github.com/kenneth/ndn-group-encrypt/internal/geperrors"
)

// Scheme selects the RSA padding scheme, per spec.md §4.1.
type Scheme int

const (
	// PKCS1v15 is RSA PKCS#1 v1.5 encryption.
	PKCS1v15 Scheme = iota
	// OAEP is RSA-OAEP. The core resolves spec.md's open question on hash
	// choice in favor of SHA-256 (see DESIGN.md).
	OAEP
)

// RSAGenerate generates a fresh RSA keypair of the given modulus size,
// returning canonical DER-encoded private and public key bytes. Only this
// primitive layer ever parses key DER; the rest of the system carries keys
// as opaque byte buffers, per spec.md §4.1.
func RSAGenerate(bits int) (privateDER, publicDER []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, geperrors.Wrap(geperrors.EncryptionFailure, "rsa.GenerateKey", err)
	}
	privateDER = x509.MarshalPKCS1PrivateKey(key)
	publicDER, err = x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, geperrors.Wrap(geperrors.EncryptionFailure, "marshal public key", err)
	}
	return privateDER, publicDER, nil
}

// RSADerivePublic derives the canonical DER-encoded public key from a
// DER-encoded private key.
func RSADerivePublic(privateDER []byte) ([]byte, error) {
	key, err := x509.ParsePKCS1PrivateKey(privateDER)
	if err != nil {
		return nil, geperrors.Wrap(geperrors.EncryptionFailure, "parse private key", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, geperrors.Wrap(geperrors.EncryptionFailure, "marshal public key", err)
	}
	return publicDER, nil
}

// RSAEncrypt encrypts plaintext under a DER-encoded public key using the
// given scheme. Intended for short payloads only — the content key itself,
// per spec.md §4.4.
func RSAEncrypt(publicDER, plaintext []byte, scheme Scheme) ([]byte, error) {
	pub, err := parsePublicKey(publicDER)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case PKCS1v15:
		ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, plaintext)
		if err != nil {
			return nil, geperrors.Wrap(geperrors.EncryptionFailure, "rsa PKCS1v15 encrypt", err)
		}
		return ct, nil
	case OAEP:
		ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
		if err != nil {
			return nil, geperrors.Wrap(geperrors.EncryptionFailure, "rsa OAEP encrypt", err)
		}
		return ct, nil
	default:
		return nil, geperrors.New(geperrors.UnsupportedEncryptionScheme, "unknown RSA scheme")
	}
}

// RSADecrypt decrypts ciphertext under a DER-encoded private key using the
// given scheme.
func RSADecrypt(privateDER, ciphertext []byte, scheme Scheme) ([]byte, error) {
	key, err := x509.ParsePKCS1PrivateKey(privateDER)
	if err != nil {
		return nil, geperrors.Wrap(geperrors.EncryptionFailure, "parse private key", err)
	}
	switch scheme {
	case PKCS1v15:
		pt, err := rsa.DecryptPKCS1v15(rand.Reader, key, ciphertext)
		if err != nil {
			return nil, geperrors.Wrap(geperrors.EncryptionFailure, "rsa PKCS1v15 decrypt", err)
		}
		return pt, nil
	case OAEP:
		pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ciphertext, nil)
		if err != nil {
			return nil, geperrors.Wrap(geperrors.EncryptionFailure, "rsa OAEP decrypt", err)
		}
		return pt, nil
	default:
		return nil, geperrors.New(geperrors.UnsupportedEncryptionScheme, "unknown RSA scheme")
	}
}

func parsePublicKey(publicDER []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(publicDER)
	if err != nil {
		return nil, geperrors.Wrap(geperrors.EncryptionFailure, "parse public key", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, geperrors.New(geperrors.EncryptionFailure, "public key is not RSA")
	}
	return rsaPub, nil
}
