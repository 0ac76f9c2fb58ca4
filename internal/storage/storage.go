// Package storage keeps built artifacts on disk, one directory per promise.
//
//	<base>/<promiseID>/self-signed.json
//	<base>/<promiseID>/fingerprint-record.json
//	<base>/<promiseID>/metadata.json
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/majorcontext/pledge/internal/artifact"
)

// ErrNotFound is returned when no artifact of the requested kind exists.
var ErrNotFound = errors.New("artifact not found")

// Metadata describes the artifacts saved for one promise.
type Metadata struct {
	PromiseID string                   `json:"promise_id"`
	Artifacts map[artifact.Kind]Digest `json:"artifacts"`
}

// Digest identifies one saved artifact file.
type Digest struct {
	SHA256  string    `json:"sha256"`
	SavedAt time.Time `json:"saved_at"`
}

// ArtifactStore manages artifact files under a base directory.
type ArtifactStore struct {
	dir string
}

// NewArtifactStore creates baseDir if needed.
func NewArtifactStore(baseDir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	return &ArtifactStore{dir: baseDir}, nil
}

// Dir returns the directory holding promiseID's artifacts.
func (s *ArtifactStore) Dir(promiseID string) string {
	return filepath.Join(s.dir, promiseID)
}

// Save encodes a and writes it for promiseID, replacing any previous
// artifact of the same kind. It returns the file path.
func (s *ArtifactStore) Save(promiseID string, a artifact.Artifact) (string, error) {
	if promiseID == "" || filepath.Base(promiseID) != promiseID {
		return "", fmt.Errorf("invalid promise id %q", promiseID)
	}
	data, err := artifact.Encode(a)
	if err != nil {
		return "", err
	}

	dir := s.Dir(promiseID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating promise directory: %w", err)
	}
	path := filepath.Join(dir, string(a.Kind())+".json")
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}

	m, err := s.LoadMetadata(promiseID)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	m.PromiseID = promiseID
	if m.Artifacts == nil {
		m.Artifacts = make(map[artifact.Kind]Digest)
	}
	sum := sha256.Sum256(data)
	m.Artifacts[a.Kind()] = Digest{SHA256: hex.EncodeToString(sum[:]), SavedAt: time.Now().UTC()}
	if err := s.saveMetadata(promiseID, m); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads the artifact of the given kind for promiseID.
func (s *ArtifactStore) Load(promiseID string, kind artifact.Kind) (artifact.Artifact, error) {
	data, err := s.LoadBytes(promiseID, kind)
	if err != nil {
		return nil, err
	}
	return artifact.Decode(data)
}

// LoadBytes reads the raw artifact JSON for promiseID.
func (s *ArtifactStore) LoadBytes(promiseID string, kind artifact.Kind) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(promiseID), string(kind)+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s for %s: %w", kind, promiseID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	return data, nil
}

// LoadMetadata reads metadata.json for promiseID.
func (s *ArtifactStore) LoadMetadata(promiseID string) (Metadata, error) {
	var m Metadata
	data, err := os.ReadFile(filepath.Join(s.Dir(promiseID), "metadata.json"))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parsing metadata: %w", err)
	}
	return m, nil
}

func (s *ArtifactStore) saveMetadata(promiseID string, m Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.Dir(promiseID), "metadata.json"), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	return nil
}
