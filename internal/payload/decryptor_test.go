package payload

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"testing"
)

// encryptFixture produces the three base64 fields of an encryptedContent
// block the way the provider builds them: AES-256-CBC with the IV prepended,
// the AES key RSA-OAEP wrapped, and an HMAC-SHA256 over the ciphertext.
func encryptFixture(t *testing.T, pub *rsa.PublicKey, plaintext []byte) (data, dataKey, dataSignature string) {
	t.Helper()

	aesKey := make([]byte, 32)
	if _, err := rand.Read(aesKey); err != nil {
		t.Fatalf("generate aes key: %v", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("generate iv: %v", err)
	}

	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+pad)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(pad)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		t.Fatalf("init cipher: %v", err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(padded, padded)
	cipherData := append(append([]byte{}, iv...), padded...)

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, aesKey, nil)
	if err != nil {
		t.Fatalf("wrap aes key: %v", err)
	}

	mac := hmac.New(sha256.New, aesKey)
	mac.Write(cipherData)

	return base64.StdEncoding.EncodeToString(cipherData),
		base64.StdEncoding.EncodeToString(wrappedKey),
		base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newTestDecryptor(t *testing.T) (*Decryptor, *rsa.PublicKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	d, err := NewDecryptor(string(pemBytes))
	if err != nil {
		t.Fatalf("NewDecryptor: %v", err)
	}
	return d, &key.PublicKey
}

func TestDecrypt_RoundTrip(t *testing.T) {
	d, pub := newTestDecryptor(t)
	plaintext := []byte(`{"internetMessageId": "<abc@sender.test>", "conversationId": "c1"}`)
	data, dataKey, dataSignature := encryptFixture(t, pub, plaintext)

	got, err := d.Decrypt(data, dataKey, dataSignature)
	if err != nil {
		t.Fatalf("Decrypt error: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round trip mismatch: %s", got)
	}
}

func TestDecrypt_MissingSignatureAccepted(t *testing.T) {
	d, pub := newTestDecryptor(t)
	data, dataKey, _ := encryptFixture(t, pub, []byte(`{"ok": true}`))

	if _, err := d.Decrypt(data, dataKey, ""); err != nil {
		t.Fatalf("Decrypt without signature: %v", err)
	}
}

func TestDecrypt_SignatureMismatchRejected(t *testing.T) {
	d, pub := newTestDecryptor(t)
	data, dataKey, _ := encryptFixture(t, pub, []byte(`{"ok": true}`))
	forged := base64.StdEncoding.EncodeToString(make([]byte, sha256.Size))

	_, err := d.Decrypt(data, dataKey, forged)
	if !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestDecrypt_WrongKeyRejected(t *testing.T) {
	d, _ := newTestDecryptor(t)
	_, otherPub := newTestDecryptor(t)
	data, dataKey, dataSignature := encryptFixture(t, otherPub, []byte(`{"ok": true}`))

	_, err := d.Decrypt(data, dataKey, dataSignature)
	if !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestDecrypt_NonJSONPlaintextRejected(t *testing.T) {
	d, pub := newTestDecryptor(t)
	data, dataKey, dataSignature := encryptFixture(t, pub, []byte("not json at all"))

	_, err := d.Decrypt(data, dataKey, dataSignature)
	if !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestNewDecryptor_EmptyKey(t *testing.T) {
	if _, err := NewDecryptor(""); !errors.Is(err, ErrNoPrivateKey) {
		t.Fatalf("expected ErrNoPrivateKey, got %v", err)
	}
}

func TestNewDecryptor_PKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	if _, err := NewDecryptor(string(pemBytes)); err != nil {
		t.Fatalf("NewDecryptor pkcs8: %v", err)
	}
}
