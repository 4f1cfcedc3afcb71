package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ──────────────────────────────────────────────────────────────────
// Versioned Model Store
//
// One JSON file per model version under <dir>/, keyed by version string.
// Writes are atomic (write-temp-then-rename) so a crash mid-put never
// leaves a torn artifact behind. Versions are immutable once written.
// ──────────────────────────────────────────────────────────────────

// Model is the persisted payload for one version: the layer weights plus
// provenance of the aggregation that produced it.
type Model struct {
	Version     string      `json:"version"`
	BaseVersion string      `json:"base_version,omitempty"`
	RoundID     int         `json:"round_id,omitempty"`
	NumUpdates  int         `json:"num_updates,omitempty"`
	Weights     [][]float64 `json:"weights"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Shape returns the per-layer element counts of the model weights. This is
// authoritative for shape compatibility of incoming deltas.
func (m *Model) Shape() []int {
	shape := make([]int, len(m.Weights))
	for i, layer := range m.Weights {
		shape[i] = len(layer)
	}
	return shape
}

type Store struct {
	dir string
}

// Open prepares a model store rooted at dir, creating it if needed. If no
// version exists yet, a deterministic v1 (all-zeros with the given layer
// sizes) is written so the initial model is downloadable before the first
// aggregation completes.
func Open(dir string, layerSizes []int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	s := &Store{dir: dir}

	if _, ok := s.Latest(); !ok {
		weights := make([][]float64, len(layerSizes))
		for i, n := range layerSizes {
			weights[i] = make([]float64, n)
		}
		seed := &Model{
			Version:   InitialVersion(),
			Weights:   weights,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.Put(InitialVersion(), seed); err != nil {
			return nil, fmt.Errorf("seed initial model: %w", err)
		}
		log.Printf("[ModelStore] Seeded initial model %s with layer sizes %v", InitialVersion(), layerSizes)
	}
	return s, nil
}

func (s *Store) path(version string) string {
	return filepath.Join(s.dir, version+".json")
}

// Put writes a model version atomically. Existing versions are never
// overwritten.
func (s *Store) Put(version string, m *Model) error {
	if !IsValidVersion(version) {
		return fmt.Errorf("invalid model version %q", version)
	}
	final := s.path(version)
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("model version %s already exists", version)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model %s: %w", version, err)
	}

	tmp, err := os.CreateTemp(s.dir, version+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for model %s: %w", version, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write model %s: %w", version, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close model %s: %w", version, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish model %s: %w", version, err)
	}
	return nil
}

// Get loads a model version from disk.
func (s *Store) Get(version string) (*Model, error) {
	if !IsValidVersion(version) {
		return nil, fmt.Errorf("invalid model version %q", version)
	}
	data, err := os.ReadFile(s.path(version))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("read model %s: %w", version, err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("model file %s is corrupted: %w", version, err)
	}
	return &m, nil
}

// Exists reports whether a version file is on disk.
func (s *Store) Exists(version string) bool {
	_, err := os.Stat(s.path(version))
	return err == nil
}

// Latest scans the store directory and returns the highest version string.
func (s *Store) Latest() (string, bool) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", false
	}
	best := 0
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		if n, ok := ParseVersionNumber(name[:len(name)-len(".json")]); ok && n > best {
			best = n
		}
	}
	if best == 0 {
		return "", false
	}
	return fmt.Sprintf("v%d", best), true
}

// List returns all stored versions in ascending order.
func (s *Store) List() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	nums := []int{}
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		if n, ok := ParseVersionNumber(name[:len(name)-len(".json")]); ok {
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)
	versions := make([]string, len(nums))
	for i, n := range nums {
		versions[i] = fmt.Sprintf("v%d", n)
	}
	return versions
}
