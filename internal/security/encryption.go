package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

const charset = "qwertyuiopasdfghjklzxcvbnmQWERTYUIOPASDFGHJKLZXCVBNM1234567890-_|!/"

var ErrCipherTextTooShort = errors.New("cipher text is shorter than the nonce")

type Encrypter interface {
	EncryptAES(string) (string, error)
	DecryptAES(string) ([]byte, error)
}

type AESEncrypter struct {
	Key []byte
}

func NewAESEncrypter(key []byte) *AESEncrypter {
	return &AESEncrypter{Key: key}
}

func (e *AESEncrypter) gcm() (cipher.AEAD, error) {
	c, err := aes.NewCipher(e.Key)
	if err != nil {
		return nil, fmt.Errorf("err new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(c)
	if err != nil {
		return nil, fmt.Errorf("err new gcm: %w", err)
	}
	return gcm, nil
}

func (e *AESEncrypter) EncryptAES(text string) (string, error) {
	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	out := gcm.Seal(nonce, nonce, []byte(text), nil)
	return hex.EncodeToString(out), nil
}

func (e *AESEncrypter) DecryptAES(encrypted string) ([]byte, error) {
	cipherText, err := hex.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("err decoding hex: %w", err)
	}

	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(cipherText) < nonceSize {
		return nil, ErrCipherTextTooShort
	}
	nonce, cipherText := cipherText[:nonceSize], cipherText[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, fmt.Errorf("err opening gcm: %w", err)
	}
	return plaintext, nil
}

// LoadOrCreateKey returns the key stored in the environment variable name.
// A missing key is generated and appended to the dotenv file at dotenvPath
// so that later starts decrypt what this one encrypted.
func LoadOrCreateKey(name, dotenvPath string) ([]byte, error) {
	if k, ok := os.LookupEnv(name); ok && k != "" {
		if len(k) != 32 {
			return nil, fmt.Errorf("%s must be 32 bytes long, got %d", name, len(k))
		}
		return []byte(k), nil
	}

	key, err := GenerateRandomKey(32)
	if err != nil {
		return nil, err
	}
	if err := writeToDotenv(dotenvPath, name, key); err != nil {
		return nil, err
	}
	os.Setenv(name, key)
	return []byte(key), nil
}

func writeToDotenv(path, name, value string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(name + "=\"" + value + "\"\n")
	return err
}

func GenerateRandomKey(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b), nil
}
