package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logger"
	"gopkg.in/yaml.v3"
)

// ServerStore persists server definitions as a YAML list.
type ServerStore struct {
	path string
	log  logger.Logger
	mu   sync.Mutex
}

// NewServerStore returns a store backed by the YAML file at path.
func NewServerStore(path string, log logger.Logger) *ServerStore {
	return &ServerStore{path: path, log: logger.OrDefault(log)}
}

// Path returns the backing file path.
func (s *ServerStore) Path() string {
	return s.path
}

// Load returns all stored servers sorted by id. A missing or malformed file
// yields an empty list; the problem is logged, not returned.
func (s *ServerStore) Load() []Server {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("cannot read %s: %v", s.path, err)
		}
		return []Server{}
	}

	var servers []Server
	if err := yaml.Unmarshal(data, &servers); err != nil {
		s.log.Warn("ignoring malformed %s: %v", s.path, err)
		return []Server{}
	}

	out := make([]Server, 0, len(servers))
	for _, srv := range servers {
		out = append(out, srv.WithDefaults())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Save replaces the stored list. The file is written to a temp file in the
// same directory and renamed into place.
func (s *ServerStore) Save(servers []Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(servers)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to encode server list", "")
	}
	return writeFileAtomic(s.path, data)
}

// NextID returns the id for a newly added server: one past the largest id.
func NextID(servers []Server) int {
	max := 0
	for _, s := range servers {
		if s.ID > max {
			max = s.ID
		}
	}
	return max + 1
}

// FindServer returns the server with the given id.
func FindServer(servers []Server, id int) (Server, bool) {
	for _, s := range servers {
		if s.ID == id {
			return s, true
		}
	}
	return Server{}, false
}

// writeFileAtomic writes data next to path and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Cannot create directory %s", dir),
			"Check permissions on the data directory")
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Cannot write %s", path),
			"Check permissions on the data directory")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.WrapWithCode(err, errors.ErrConfig, fmt.Sprintf("Cannot write %s", path), "")
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, fmt.Sprintf("Cannot write %s", path), "")
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, fmt.Sprintf("Cannot write %s", path), "")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, fmt.Sprintf("Cannot replace %s", path), "")
	}
	return nil
}

// WriteFileAtomic is exported for other stores under the data directory.
func WriteFileAtomic(path string, data []byte) error {
	return writeFileAtomic(path, data)
}
