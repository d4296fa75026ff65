package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"
)

const serviceName = "ocsync"

// StoredCredentials is the secret blob kept per connection.
type StoredCredentials struct {
	Connection string `json:"connection"`
	User       string `json:"user"`
	Password   string `json:"password,omitempty"`
	AppToken   string `json:"appToken,omitempty"`
	SavedAt    string `json:"savedAt"`
}

// Manager chooses a storage backend and reads/writes connection secrets.
type Manager struct {
	configDir      string
	useKeyring     bool
	storage        StorageBackend
	storageWarning string
}

// ManagerOptions configures the auth manager
type ManagerOptions struct {
	ForceEncryptedFile bool
	ForcePlainFile     bool // insecure, dev only
}

func NewManager(configDir string) *Manager {
	return NewManagerWithOptions(configDir, ManagerOptions{})
}

func NewManagerWithOptions(configDir string, opts ManagerOptions) *Manager {
	mgr := &Manager{configDir: configDir}

	switch {
	case opts.ForcePlainFile:
		mgr.storage = NewPlainFileStorage(configDir)
		mgr.storageWarning = "WARNING: Using unencrypted file storage. Credentials are stored in plain text."
	case opts.ForceEncryptedFile || !checkKeyringAvailable():
		storage, err := NewEncryptedFileStorage(configDir)
		if err != nil {
			mgr.storage = NewPlainFileStorage(configDir)
			mgr.storageWarning = fmt.Sprintf("WARNING: Encryption setup failed (%v). Using plain file storage.", err)
		} else {
			mgr.storage = storage
			if !opts.ForceEncryptedFile {
				mgr.storageWarning = "INFO: System keyring not available. Using encrypted file storage."
			}
		}
	default:
		mgr.storage = NewKeyringStorage(serviceName)
		mgr.useKeyring = true
	}

	return mgr
}

func checkKeyringAvailable() bool {
	testKey := "ocsync-probe"
	if err := keyring.Set(serviceName, testKey, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, testKey)
	return true
}

// SaveCredentials stores the secrets of a connection.
func (m *Manager) SaveCredentials(connection string, creds *StoredCredentials) error {
	stored := *creds
	stored.Connection = connection
	stored.SavedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := m.storage.Save(connection, data); err != nil {
		return err
	}

	if err := m.addToConnectionList(connection); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to update connection list: %v\n", err)
	}
	return nil
}

// LoadCredentials returns the stored secrets of a connection.
func (m *Manager) LoadCredentials(connection string) (*StoredCredentials, error) {
	data, err := m.storage.Load(connection)
	if err != nil {
		return nil, err
	}

	var stored StoredCredentials
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return &stored, nil
}

// DeleteCredentials removes a connection's secrets.
func (m *Manager) DeleteCredentials(connection string) error {
	if err := m.storage.Delete(connection); err != nil {
		return err
	}

	if err := m.removeFromConnectionList(connection); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to update connection list: %v\n", err)
	}
	return nil
}

// RequireCredentials loads credentials or returns an AUTH_REQUIRED error.
func (m *Manager) RequireCredentials(connection string) (*StoredCredentials, error) {
	creds, err := m.LoadCredentials(connection)
	if err != nil {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
			"No credentials found. Run 'ocsync auth login' first.").
			WithContext("connection", connection).Build())
	}
	return creds, nil
}

// TokenSource returns a static bearer token source when an app token is stored.
func (c *StoredCredentials) TokenSource() oauth2.TokenSource {
	if c == nil || c.AppToken == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: c.AppToken,
		TokenType:   "Bearer",
	})
}

// ListConnections lists connections that have stored credentials.
func (m *Manager) ListConnections() ([]string, error) {
	var connections []string

	if m.useKeyring {
		data, err := os.ReadFile(m.connectionListPath())
		if err != nil {
			if os.IsNotExist(err) {
				return []string{}, nil
			}
			return nil, err
		}
		if err := json.Unmarshal(data, &connections); err != nil {
			return nil, err
		}
		return connections, nil
	}

	entries, err := os.ReadDir(filepath.Join(m.configDir, "credentials"))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if ext := filepath.Ext(name); ext == ".json" || ext == ".enc" {
			connections = append(connections, name[:len(name)-len(ext)])
		}
	}
	sort.Strings(connections)
	return connections, nil
}

func (m *Manager) connectionListPath() string {
	return filepath.Join(m.configDir, "connections.json")
}

// addToConnectionList tracks names for keyring storage, which cannot be enumerated.
func (m *Manager) addToConnectionList(connection string) error {
	if !m.useKeyring {
		return nil
	}

	connections, err := m.ListConnections()
	if err != nil {
		return err
	}
	for _, c := range connections {
		if c == connection {
			return nil
		}
	}
	connections = append(connections, connection)
	return m.writeConnectionList(connections)
}

func (m *Manager) removeFromConnectionList(connection string) error {
	if !m.useKeyring {
		return nil
	}

	connections, err := m.ListConnections()
	if err != nil {
		return err
	}
	updated := connections[:0]
	for _, c := range connections {
		if c != connection {
			updated = append(updated, c)
		}
	}
	return m.writeConnectionList(updated)
}

func (m *Manager) writeConnectionList(connections []string) error {
	data, err := json.Marshal(connections)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return err
	}
	return os.WriteFile(m.connectionListPath(), data, 0600)
}

// UseKeyring returns whether the manager is using the system keyring
func (m *Manager) UseKeyring() bool {
	return m.useKeyring
}

// GetStorageBackend returns the name of the storage backend being used
func (m *Manager) GetStorageBackend() string {
	return m.storage.Name()
}

// GetStorageWarning returns any warning message about the storage backend
func (m *Manager) GetStorageWarning() string {
	return m.storageWarning
}
