package tus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Session is what is remembered about an unfinished upload so that a later
// call with the same fingerprint can resume it.
type Session struct {
	UploadURL  string    `json:"upload_url"`
	ObjectName string    `json:"object_name"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
}

// FingerprintStore persists sessions keyed by file fingerprint.
type FingerprintStore interface {
	Find(fingerprint string) (Session, bool, error)
	Save(fingerprint string, s Session) error
	Remove(fingerprint string) error
}

// Fingerprint identifies a local file for a given endpoint and bucket.
func Fingerprint(endpoint, bucket string, f *File) string {
	h := sha256.New()
	for _, part := range []string{
		endpoint,
		bucket,
		f.Name,
		f.ContentType,
		strconv.FormatInt(f.Size, 10),
		strconv.FormatInt(f.ModTime.UnixNano(), 10),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "tus-" + hex.EncodeToString(h.Sum(nil))
}

type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Find(fingerprint string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[fingerprint]
	return s, ok, nil
}

func (m *MemoryStore) Save(fingerprint string, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[fingerprint] = s
	return nil
}

func (m *MemoryStore) Remove(fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, fingerprint)
	return nil
}

// FileStore keeps one JSON file per fingerprint so sessions survive process
// restarts.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create fingerprint dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(fingerprint string) string {
	return filepath.Join(s.dir, fingerprint+".json")
}

func (s *FileStore) Find(fingerprint string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(fingerprint))
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("failed to read session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// A corrupt entry is treated as absent; the upload starts over.
		_ = os.Remove(s.path(fingerprint))
		return Session{}, false, nil
	}
	return sess, true, nil
}

func (s *FileStore) Save(fingerprint string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	tmp := s.path(fingerprint) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return os.Rename(tmp, s.path(fingerprint))
}

func (s *FileStore) Remove(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(fingerprint))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
