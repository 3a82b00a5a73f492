package api

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/shamaton/msgpack/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"

	"github.com/compcache/compcache/types"
)

// ManifestName is the artifact-directory file recording what has been
// staged, for offline inspection.
const ManifestName = "manifest.msgpack"

// ManifestEntry describes one staged artifact.
type ManifestEntry struct {
	Name   string `msgpack:"name"`
	Digest string `msgpack:"digest"`
	Size   int    `msgpack:"size"`
}

type manifest struct {
	Artifacts []ManifestEntry `msgpack:"artifacts"`
}

// Staging persists submitted source and defined artifact bytes at
// deterministic paths derived from unit names. Persistence is a debug
// convenience, not a correctness mechanism: the in-memory loaded map is
// authoritative. The artifact directory is held under an exclusive flock
// so two processes never interleave writes.
type Staging struct {
	sourceDir      string
	artifactDir    string
	sourceSuffix   string
	artifactSuffix string

	lockfile *os.File
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]ManifestEntry
}

// InitStaging creates both staging directories and takes the exclusive
// lock on the artifact directory.
func InitStaging(cfg types.CacheConfig) (*Staging, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	for _, dir := range []string{cfg.SourceDir, cfg.ArtifactDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create staging directory: %w", err)
		}
	}

	lockfilePath := filepath.Join(cfg.ArtifactDir, "exclusive.lock")
	lockfile, err := os.OpenFile(lockfilePath, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("could not open exclusive.lock: %w", err)
	}
	if err := unix.Flock(int(lockfile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockfile.Close()
		return nil, fmt.Errorf("could not obtain exclusive lock: %w", err)
	}

	s := &Staging{
		sourceDir:      cfg.SourceDir,
		artifactDir:    cfg.ArtifactDir,
		sourceSuffix:   cfg.SourceSuffix,
		artifactSuffix: cfg.ArtifactSuffix,
		lockfile:       lockfile,
		logger:         cfg.Logger,
		entries:        make(map[string]ManifestEntry),
	}
	if err := s.loadManifest(); err != nil {
		s.logger.Warn("ignoring unreadable staging manifest", "error", err)
	}
	return s, nil
}

// Release drops the exclusive lock on the artifact directory.
func (s *Staging) Release() error {
	if s == nil || s.lockfile == nil {
		return nil
	}
	if err := s.lockfile.Close(); err != nil {
		return fmt.Errorf("failed to close lockfile: %w", err)
	}
	s.lockfile = nil
	return nil
}

// SourcePath derives the staging path of a unit's source text: dots map
// to path separators, the source suffix is appended.
func (s *Staging) SourcePath(name string) string {
	return filepath.Join(s.sourceDir, stagedName(name)+s.sourceSuffix)
}

// ArtifactPath derives the staging path of an artifact's bytes.
func (s *Staging) ArtifactPath(name string) string {
	return filepath.Join(s.artifactDir, stagedName(name)+s.artifactSuffix)
}

func stagedName(name string) string {
	return strings.ReplaceAll(name, ".", string(filepath.Separator))
}

// WriteSource persists a unit's source text before a compile pass and
// returns the staged path, for handing to file-based compilers.
func (s *Staging) WriteSource(name, source string) (string, error) {
	path := s.SourcePath(name)
	if _, err := writeFileIdempotent(path, []byte(source)); err != nil {
		return "", err
	}
	return path, nil
}

// WriteArtifact persists defined artifact bytes after harvest and records
// the artifact in the manifest.
func (s *Staging) WriteArtifact(name string, code []byte) error {
	changed, err := writeFileIdempotent(s.ArtifactPath(name), code)
	if err != nil {
		return err
	}
	digest := blake3.Sum256(code)
	if changed {
		s.logger.Info("updated staged artifact",
			"artifact", name, "digest", fmt.Sprintf("%x", digest), "size", len(code))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = ManifestEntry{
		Name:   name,
		Digest: fmt.Sprintf("%x", digest),
		Size:   len(code),
	}
	return s.saveManifestLocked()
}

// Manifest returns the staged artifacts sorted by name.
func (s *Staging) Manifest() []ManifestEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ManifestEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Staging) manifestPath() string {
	return filepath.Join(s.artifactDir, ManifestName)
}

func (s *Staging) loadManifest() error {
	data, err := os.ReadFile(s.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var m manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decoding manifest: %w", err)
	}
	for _, e := range m.Artifacts {
		s.entries[e.Name] = e
	}
	return nil
}

func (s *Staging) saveManifestLocked() error {
	m := manifest{Artifacts: make([]ManifestEntry, 0, len(s.entries))}
	for _, e := range s.entries {
		m.Artifacts = append(m.Artifacts, e)
	}
	sort.Slice(m.Artifacts, func(i, j int) bool { return m.Artifacts[i].Name < m.Artifacts[j].Name })
	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return os.WriteFile(s.manifestPath(), data, 0o644)
}

// LoadManifest reads the staging manifest from an artifact directory
// without taking the staging lock. Used for offline inspection.
func LoadManifest(artifactDir string) ([]ManifestEntry, error) {
	data, err := os.ReadFile(filepath.Join(artifactDir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return m.Artifacts, nil
}

// writeFileIdempotent writes data to path, creating parent directories as
// needed. If path already holds byte-identical content nothing happens.
// If the content differs, the previous file is moved aside to a .bak
// sibling before the new content is written; on a failed write the backup
// is restored.
func writeFileIdempotent(path string, data []byte) (changed bool, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("could not create directory for %s: %w", path, err)
	}

	var bak string
	if old, err := os.ReadFile(path); err == nil {
		if blake3.Sum256(old) == blake3.Sum256(data) {
			return false, nil
		}
		bak = path + ".bak"
		if err := os.Rename(path, bak); err != nil {
			return false, fmt.Errorf("could not back up %s: %w", path, err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		os.Remove(path)
		if bak != "" {
			os.Rename(bak, path)
		}
		return false, fmt.Errorf("could not write %s: %w", path, err)
	}
	return true, nil
}
