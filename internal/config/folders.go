package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/mitchellh/go-homedir"
)

// FolderDefinition pairs a local directory with a remote WebDAV path.
type FolderDefinition struct {
	Alias      string `json:"alias"`
	LocalPath  string `json:"localPath"`
	RemotePath string `json:"remotePath"`
	Connection string `json:"connection,omitempty"`
}

// Folders is the content of folders.yaml.
type Folders struct {
	Folders []FolderDefinition `json:"folders"`
}

// LoadFolders reads folder definitions; a missing file yields an empty set.
func LoadFolders(path string) (*Folders, error) {
	if path == "" {
		var err error
		if path, err = GetFoldersPath(); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Folders{}, nil
		}
		return nil, fmt.Errorf("failed to read folders file: %w", err)
	}

	var f Folders
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse folders file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Save writes the definitions as YAML.
func (f *Folders) Save(path string) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if path == "" {
		var err error
		if path, err = GetFoldersPath(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal folders: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write folders file: %w", err)
	}
	return nil
}

// Validate checks aliases are unique and paths are present.
func (f *Folders) Validate() error {
	seen := make(map[string]bool, len(f.Folders))
	for _, def := range f.Folders {
		if strings.TrimSpace(def.Alias) == "" {
			return fmt.Errorf("folder alias must not be empty")
		}
		if seen[def.Alias] {
			return fmt.Errorf("duplicate folder alias: %s", def.Alias)
		}
		seen[def.Alias] = true
		if def.LocalPath == "" {
			return fmt.Errorf("folder %s: local path must not be empty", def.Alias)
		}
	}
	return nil
}

// Find returns the folder with the given alias.
func (f *Folders) Find(alias string) (FolderDefinition, bool) {
	for _, def := range f.Folders {
		if def.Alias == alias {
			return def, true
		}
	}
	return FolderDefinition{}, false
}

// Add appends a definition, refusing duplicate aliases.
func (f *Folders) Add(def FolderDefinition) error {
	if _, ok := f.Find(def.Alias); ok {
		return fmt.Errorf("folder %s already exists", def.Alias)
	}
	f.Folders = append(f.Folders, def)
	return f.Validate()
}

// Remove deletes the alias and reports whether it existed.
func (f *Folders) Remove(alias string) bool {
	for i, def := range f.Folders {
		if def.Alias == alias {
			f.Folders = append(f.Folders[:i], f.Folders[i+1:]...)
			return true
		}
	}
	return false
}

// ResolvedLocalPath expands a leading ~ and makes the path absolute.
func (d FolderDefinition) ResolvedLocalPath() (string, error) {
	p, err := homedir.Expand(d.LocalPath)
	if err != nil {
		return "", fmt.Errorf("folder %s: %w", d.Alias, err)
	}
	return filepath.Abs(p)
}

// RemoteURL joins the connection's WebDAV root and the folder's remote path.
func (d FolderDefinition) RemoteURL(cfg *Config) (string, error) {
	base, err := cfg.ServerURL(d.Connection, true)
	if err != nil {
		return "", err
	}
	return base + strings.TrimPrefix(d.RemotePath, "/"), nil
}
