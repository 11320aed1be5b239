package analysis

import (
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/skarch/logpanel/internal/config"
	"github.com/skarch/logpanel/internal/errors"
	"github.com/skarch/logpanel/internal/logger"
	"gopkg.in/yaml.v3"
)

// Scope partitions cached analyses, normally one per server.
type Scope string

// SharedScope holds analyses reused across servers.
const SharedScope Scope = "shared"

// ServerScope returns the cache scope for a server id.
func ServerScope(id int) Scope {
	return Scope("server-" + strconv.Itoa(id))
}

// Cache stores analyses keyed by scope and log text in a YAML file:
//
//	server-1:
//	  "ERROR: db timeout": "## Problem ..."
//	shared:
//	  ...
//
// A flat text → analysis map (the older layout) is read into SharedScope.
type Cache struct {
	path string
	log  logger.Logger
	mu   sync.Mutex
}

// NewCache returns a cache backed by the YAML file at path.
func NewCache(path string, log logger.Logger) *Cache {
	return &Cache{path: path, log: logger.OrDefault(log)}
}

// Path returns the backing file path.
func (c *Cache) Path() string {
	return c.path
}

// Save records analysis for logText, overwriting any previous entry.
func (c *Cache) Save(scope Scope, logText, analysis string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := c.readLocked()
	entries := data[scope]
	if entries == nil {
		entries = make(map[string]string)
		data[scope] = entries
	}
	entries[logText] = analysis
	return c.writeLocked(data)
}

// Load returns the cached analysis for logText.
func (c *Cache) Load(scope Scope, logText string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.readLocked()[scope][logText]
	return a, ok
}

// Delete removes one entry. Deleting a missing entry is not an error.
func (c *Cache) Delete(scope Scope, logText string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := c.readLocked()
	if _, ok := data[scope][logText]; !ok {
		return nil
	}
	delete(data[scope], logText)
	if len(data[scope]) == 0 {
		delete(data, scope)
	}
	return c.writeLocked(data)
}

// DeleteScope removes every entry in scope.
func (c *Cache) DeleteScope(scope Scope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := c.readLocked()
	if _, ok := data[scope]; !ok {
		return nil
	}
	delete(data, scope)
	return c.writeLocked(data)
}

// Entries returns the log texts cached in scope, sorted.
func (c *Cache) Entries(scope Scope) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for text := range c.readLocked()[scope] {
		out = append(out, text)
	}
	sort.Strings(out)
	return out
}

// readLocked loads the file. Missing or malformed files read as empty.
func (c *Cache) readLocked() map[Scope]map[string]string {
	out := make(map[Scope]map[string]string)

	raw, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("cannot read %s: %v", c.path, err)
		}
		return out
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		c.log.Warn("ignoring malformed %s: %v", c.path, err)
		return out
	}

	for key, node := range doc {
		switch node.Kind {
		case yaml.ScalarNode:
			if out[SharedScope] == nil {
				out[SharedScope] = make(map[string]string)
			}
			out[SharedScope][key] = node.Value
		case yaml.MappingNode:
			var entries map[string]string
			if err := node.Decode(&entries); err != nil {
				c.log.Warn("skipping scope %q in %s: %v", key, c.path, err)
				continue
			}
			scope := Scope(key)
			if out[scope] == nil {
				out[scope] = make(map[string]string)
			}
			for text, a := range entries {
				out[scope][text] = a
			}
		}
	}
	return out
}

func (c *Cache) writeLocked(data map[Scope]map[string]string) error {
	doc := make(map[string]map[string]string, len(data))
	for scope, entries := range data {
		doc[string(scope)] = entries
	}
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrAnalysis, "Failed to encode analysis cache", "")
	}
	return config.WriteFileAtomic(c.path, raw)
}

// ScopeFor picks the scope for a server given the shared_cache setting.
func ScopeFor(serverID int, shared bool) Scope {
	if shared {
		return SharedScope
	}
	return ServerScope(serverID)
}

