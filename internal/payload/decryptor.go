// Package payload decrypts Microsoft Graph encrypted change-notification
// content: an RSA-OAEP wrapped AES key plus an AES-256-CBC payload whose
// first 16 bytes are the IV.
package payload

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
)

var (
	ErrNoPrivateKey = errors.New("payload decryption private key not configured")

	// ErrDecryption marks any failure while unwrapping or decrypting a
	// notification payload. Callers fall back to fetching the message
	// directly from Graph.
	ErrDecryption = errors.New("payload decryption failed")
)

type Decryptor struct {
	key *rsa.PrivateKey
}

// NewDecryptor parses a PEM-encoded RSA private key (PKCS#1 or PKCS#8).
func NewDecryptor(privateKeyPEM string) (*Decryptor, error) {
	if privateKeyPEM == "" {
		return nil, ErrNoPrivateKey
	}

	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("parse private key: no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &Decryptor{key: key}, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("parse private key: not an RSA key")
	}
	return &Decryptor{key: rsaKey}, nil
}

// Decrypt unwraps the base64 RSA-encrypted AES key, verifies the payload
// signature when present, decrypts the AES-256-CBC ciphertext and returns
// the contained JSON document.
//
// dataSignature is the base64 HMAC-SHA256 of the raw ciphertext keyed with
// the unwrapped AES key; an empty signature is accepted, a mismatching one
// is not.
func (d *Decryptor) Decrypt(cipherDataB64, encryptedKeyB64, dataSignatureB64 string) (json.RawMessage, error) {
	encryptedKey, err := base64.StdEncoding.DecodeString(encryptedKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: decode data key: %v", ErrDecryption, err)
	}

	aesKey, err := rsa.DecryptOAEP(sha256.New(), nil, d.key, encryptedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap aes key: %v", ErrDecryption, err)
	}

	cipherData, err := base64.StdEncoding.DecodeString(cipherDataB64)
	if err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrDecryption, err)
	}
	if len(cipherData) < aes.BlockSize || len(cipherData)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: payload length %d not a whole number of blocks", ErrDecryption, len(cipherData))
	}

	if dataSignatureB64 != "" {
		expected, err := base64.StdEncoding.DecodeString(dataSignatureB64)
		if err != nil {
			return nil, fmt.Errorf("%w: decode signature: %v", ErrDecryption, err)
		}
		mac := hmac.New(sha256.New, aesKey)
		mac.Write(cipherData)
		if !hmac.Equal(mac.Sum(nil), expected) {
			return nil, fmt.Errorf("%w: payload signature mismatch", ErrDecryption)
		}
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("%w: init cipher: %v", ErrDecryption, err)
	}

	iv := cipherData[:aes.BlockSize]
	ciphertext := make([]byte, len(cipherData)-aes.BlockSize)
	copy(ciphertext, cipherData[aes.BlockSize:])
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(ciphertext, ciphertext)

	plaintext, err := stripPKCS7(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	if !json.Valid(plaintext) {
		return nil, fmt.Errorf("%w: decrypted payload is not valid JSON", ErrDecryption)
	}
	return json.RawMessage(plaintext), nil
}

func stripPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, errors.New("bad padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, errors.New("bad padding")
		}
	}
	return data[:len(data)-pad], nil
}
