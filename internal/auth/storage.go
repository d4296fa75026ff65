package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

// ErrNoCredentials is returned when nothing is stored for a connection.
var ErrNoCredentials = errors.New("no stored credentials")

// StorageBackend persists the secret blob of one connection.
type StorageBackend interface {
	Save(connection string, data []byte) error
	Load(connection string) ([]byte, error)
	Delete(connection string) error
	Name() string
}

// KeyringStorage uses the system keyring
type KeyringStorage struct {
	serviceName string
}

func NewKeyringStorage(serviceName string) *KeyringStorage {
	return &KeyringStorage{serviceName: serviceName}
}

func (s *KeyringStorage) Save(connection string, data []byte) error {
	if err := keyring.Set(s.serviceName, connection, string(data)); err != nil {
		return fmt.Errorf("failed to store credentials in keyring: %w", err)
	}
	return nil
}

func (s *KeyringStorage) Load(connection string) ([]byte, error) {
	data, err := keyring.Get(s.serviceName, connection)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("%w for connection '%s'", ErrNoCredentials, connection)
		}
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}
	return []byte(data), nil
}

func (s *KeyringStorage) Delete(connection string) error {
	err := keyring.Delete(s.serviceName, connection)
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w for connection '%s'", ErrNoCredentials, connection)
	}
	return err
}

func (s *KeyringStorage) Name() string {
	return "system-keyring"
}

// EncryptedFileStorage stores credentials in AES-GCM encrypted files
type EncryptedFileStorage struct {
	baseDir string
	key     []byte
}

func NewEncryptedFileStorage(baseDir string) (*EncryptedFileStorage, error) {
	key, err := getOrCreateEncryptionKey(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get encryption key: %w", err)
	}

	return &EncryptedFileStorage{
		baseDir: baseDir,
		key:     key,
	}, nil
}

func (s *EncryptedFileStorage) Save(connection string, data []byte) error {
	encrypted, err := s.encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	credFile := s.credentialFilePath(connection)
	if err := os.MkdirAll(filepath.Dir(credFile), 0700); err != nil {
		return err
	}

	return os.WriteFile(credFile, encrypted, 0600)
}

func (s *EncryptedFileStorage) Load(connection string) ([]byte, error) {
	encrypted, err := os.ReadFile(s.credentialFilePath(connection))
	if err != nil {
		return nil, fmt.Errorf("%w for connection '%s'", ErrNoCredentials, connection)
	}

	return s.decrypt(encrypted)
}

func (s *EncryptedFileStorage) Delete(connection string) error {
	return os.Remove(s.credentialFilePath(connection))
}

func (s *EncryptedFileStorage) Name() string {
	return "encrypted-file"
}

func (s *EncryptedFileStorage) credentialFilePath(connection string) string {
	return filepath.Join(s.baseDir, "credentials", connection+".enc")
}

func (s *EncryptedFileStorage) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *EncryptedFileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("invalid ciphertext")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertext = ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	return plaintext, nil
}

// PlainFileStorage stores credentials unencrypted (development only)
type PlainFileStorage struct {
	baseDir string
}

func NewPlainFileStorage(baseDir string) *PlainFileStorage {
	return &PlainFileStorage{baseDir: baseDir}
}

func (s *PlainFileStorage) Save(connection string, data []byte) error {
	credFile := s.credentialFilePath(connection)
	if err := os.MkdirAll(filepath.Dir(credFile), 0700); err != nil {
		return err
	}
	return os.WriteFile(credFile, data, 0600)
}

func (s *PlainFileStorage) Load(connection string) ([]byte, error) {
	data, err := os.ReadFile(s.credentialFilePath(connection))
	if err != nil {
		return nil, fmt.Errorf("%w for connection '%s'", ErrNoCredentials, connection)
	}
	return data, nil
}

func (s *PlainFileStorage) Delete(connection string) error {
	return os.Remove(s.credentialFilePath(connection))
}

func (s *PlainFileStorage) Name() string {
	return "plain-file"
}

func (s *PlainFileStorage) credentialFilePath(connection string) string {
	return filepath.Join(s.baseDir, "credentials", connection+".json")
}

func getOrCreateEncryptionKey(baseDir string) ([]byte, error) {
	keyFile := filepath.Join(baseDir, ".keyfile")

	if data, err := os.ReadFile(keyFile); err == nil {
		key, err := base64.StdEncoding.DecodeString(string(data))
		if err == nil && len(key) == 32 {
			return key, nil
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(keyFile, []byte(encoded), 0600); err != nil {
		return nil, err
	}

	return key, nil
}
