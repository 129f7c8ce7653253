package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ErrNotFound is returned when no profile file exists for a subject. A
// missing profile is the one failure the pipeline cannot work around.
var ErrNotFound = errors.New("profile not found")

// Profile describes a subject the service writes comments on behalf of.
type Profile struct {
	Name          string   `json:"name"`
	Title         string   `json:"title"`
	Organization  string   `json:"organization"`
	Tone          string   `json:"tone"`
	Background    string   `json:"background"`
	TalkingPoints []string `json:"talking_points"`
	AvoidTopics   []string `json:"avoid_topics"`
	ContactEmail  string   `json:"contact_email"`
}

// Manager loads subject profiles from a directory of JSON files, one file
// per subject, named after the normalized subject. Loaded profiles are kept
// in a TTL cache so repeated pipeline runs do not hit the filesystem.
type Manager struct {
	dir   string
	cache *gocache.Cache
}

// NewManager creates a manager over the given profile directory.
func NewManager(dir string, cacheTTL time.Duration) *Manager {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Manager{
		dir:   dir,
		cache: gocache.New(cacheTTL, cacheTTL),
	}
}

// Normalize converts a subject name to its on-disk form: lowercased,
// trimmed, spaces collapsed to single underscores.
func Normalize(name string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	return strings.Join(fields, "_")
}

// Load returns the profile for a subject, reading it from disk on a cache
// miss. Returns ErrNotFound when no file exists for the subject.
func (m *Manager) Load(subject string) (Profile, error) {
	key := Normalize(subject)
	if key == "" {
		return Profile{}, fmt.Errorf("%w: empty subject", ErrNotFound)
	}
	if v, ok := m.cache.Get(key); ok {
		return v.(Profile), nil
	}

	path := filepath.Join(m.dir, key+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, subject)
		}
		return Profile{}, fmt.Errorf("read profile %s: %w", path, err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = subject
	}
	m.cache.Set(key, p, gocache.DefaultExpiration)
	return p, nil
}

// List returns the normalized subject names with a profile on disk.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read profile dir %s: %w", m.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Invalidate drops a subject from the cache so the next load re-reads disk.
func (m *Manager) Invalidate(subject string) {
	m.cache.Delete(Normalize(subject))
}
