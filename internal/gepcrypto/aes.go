// Package gepcrypto implements the AES-CBC and RSA primitives of
// spec.md §4.1: fixed key sizes, PKCS#7 padding, canonical DER key encoding.
// This is the one layer of the protocol core that is deliberately built on
// the standard library rather than a pack dependency — no library in the
// corpus reimplements FIPS symmetric/asymmetric primitives, and the core's
// own correctness depends on using the audited stdlib implementations
// directly rather than through any wrapper.
package gepcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/kenneth/ndn-group-encrypt/internal/geperrors"
)

// IVSize is the AES block size used for every content-key IV, per spec.md
// §4.1/§4.5.
const IVSize = 16

// ContentKeySize is the fixed 128-bit C-KEY size used throughout the core.
const ContentKeySize = 16

// GenerateAESKey returns size bytes of key material from a CSPRNG.
func GenerateAESKey(size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, geperrors.Wrap(geperrors.EncryptionFailure, "generate AES key", err)
	}
	return key, nil
}

// GenerateIV returns a fresh random 16-byte initialization vector.
func GenerateIV() ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, geperrors.Wrap(geperrors.EncryptionFailure, "generate IV", err)
	}
	return iv, nil
}

// AESEncryptCBC encrypts plaintext under key/iv with PKCS#7 padding.
// Key sizes 128/192/256 bits; iv must be exactly 16 bytes.
func AESEncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, geperrors.Wrap(geperrors.EncryptionFailure, "aes.NewCipher", err)
	}
	if len(iv) != IVSize {
		return nil, geperrors.New(geperrors.EncryptionFailure, "iv must be 16 bytes")
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

// AESDecryptCBC decrypts ciphertext under key/iv and removes PKCS#7 padding.
func AESDecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, geperrors.Wrap(geperrors.EncryptionFailure, "aes.NewCipher", err)
	}
	if len(iv) != IVSize {
		return nil, geperrors.New(geperrors.EncryptionFailure, "iv must be 16 bytes")
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, geperrors.New(geperrors.EncryptionFailure, "ciphertext is not a multiple of the block size")
	}

	plaintext := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext, block.BlockSize())
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, geperrors.New(geperrors.EncryptionFailure, "empty block for unpadding")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, geperrors.New(geperrors.EncryptionFailure, "invalid PKCS#7 padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, geperrors.New(geperrors.EncryptionFailure, "invalid PKCS#7 padding")
		}
	}
	return data[:len(data)-padLen], nil
}
