// Package gepencrypt implements the stateless EncryptedContent helper of
// spec.md §4.4: given caller-supplied key material it produces or opens an
// EncryptedContent TLV, independent of the producer/consumer engines that
// decide WHICH key to use. Grounded on the teacher's internal/crypto/chunked.go
// reader/writer pairing, generalized from chunked multipart bytes to a single
// EncryptedContent TLV.
package gepencrypt

import (
	"github.com/kenneth/ndn-group-encrypt/internal/gepcrypto"
	"github.com/kenneth/ndn-group-encrypt/internal/geperrors"
	"github.com/kenneth/ndn-group-encrypt/internal/gepname"
	"github.com/kenneth/ndn-group-encrypt/internal/gepwire"
)

// EncryptWithAESKey encrypts plaintext under a 16-byte AES content key,
// producing an AES-CBC EncryptedContent with a fresh random IV and the given
// key locator name (the name the consumer uses to look the C-KEY up by).
func EncryptWithAESKey(plaintext, key []byte, keyLocator gepname.Name) (*gepwire.EncryptedContent, error) {
	iv, err := gepcrypto.GenerateIV()
	if err != nil {
		return nil, err
	}
	ciphertext, err := gepcrypto.AESEncryptCBC(key, iv, plaintext)
	if err != nil {
		return nil, err
	}
	return &gepwire.EncryptedContent{
		Algorithm:  gepwire.AlgorithmAESCBC,
		KeyLocator: keyLocator,
		IV:         iv,
		Payload:    ciphertext,
	}, nil
}

// DecryptWithAESKey opens an AES-CBC EncryptedContent under the given key.
func DecryptWithAESKey(ec *gepwire.EncryptedContent, key []byte) ([]byte, error) {
	if ec.Algorithm != gepwire.AlgorithmAESCBC {
		return nil, geperrors.New(geperrors.UnsupportedEncryptionScheme, "DecryptWithAESKey requires AES-CBC EncryptedContent")
	}
	return gepcrypto.AESDecryptCBC(key, ec.IV, ec.Payload)
}

// EncryptWithRSAPublicKey wraps a content key (or any short payload, e.g. an
// AES key being handed to a consumer) under an RSA public key DER, as used
// when a producer wraps a C-KEY for an E-KEY, or when a D-KEY's AES nonce
// key is wrapped for a consumer's public key.
func EncryptWithRSAPublicKey(plaintext, publicKeyDER []byte, scheme gepcrypto.Scheme, keyLocator gepname.Name) (*gepwire.EncryptedContent, error) {
	ciphertext, err := gepcrypto.RSAEncrypt(publicKeyDER, plaintext, scheme)
	if err != nil {
		return nil, err
	}
	algo := gepwire.AlgorithmRSAPKCS
	if scheme == gepcrypto.OAEP {
		algo = gepwire.AlgorithmRSAOAEP
	}
	return &gepwire.EncryptedContent{
		Algorithm:  algo,
		KeyLocator: keyLocator,
		Payload:    ciphertext,
	}, nil
}

// DecryptWithRSAPrivateKey opens an RSA-wrapped EncryptedContent under a
// private key DER.
func DecryptWithRSAPrivateKey(ec *gepwire.EncryptedContent, privateKeyDER []byte) ([]byte, error) {
	var scheme gepcrypto.Scheme
	switch ec.Algorithm {
	case gepwire.AlgorithmRSAPKCS:
		scheme = gepcrypto.PKCS1v15
	case gepwire.AlgorithmRSAOAEP:
		scheme = gepcrypto.OAEP
	default:
		return nil, geperrors.New(geperrors.UnsupportedEncryptionScheme, "DecryptWithRSAPrivateKey requires an RSA EncryptedContent")
	}
	return gepcrypto.RSADecrypt(privateKeyDER, ec.Payload, scheme)
}

// RandomContentKey generates a fresh 128-bit content key.
func RandomContentKey() ([]byte, error) {
	return gepcrypto.GenerateAESKey(gepcrypto.ContentKeySize)
}
