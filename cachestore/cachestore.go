// Package cachestore implements the durable translation cache: one versioned
// JSON document holding final translations plus four lookup namespaces
// (search results, entity labels, ancestor-check outcomes, classification).
//
// The cache is a performance layer, not a correctness requirement: every
// failure mode degrades to an empty store or a skipped flush with a logged
// warning, never to an aborted run. Writes go through a temp file plus an
// atomic rename, so the on-disk document is always a complete state.
package cachestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchemaVersion is stamped into every document this code writes. A file
// carrying any other version is renamed to a timestamped backup and replaced
// by a fresh empty store: old data is preserved for manual recovery, never
// merged or reinterpreted.
const SchemaVersion = "2.0"

// Flush thresholds. Progress persists at least this often during long runs
// so a crash loses a bounded amount of work.
const (
	DefaultMaxDirty      = 20
	DefaultFlushInterval = 30 * time.Second
)

// Metadata describes the document.
type Metadata struct {
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Version    string `json:"version"`
	CreatedAt  string `json:"created_at"`
}

// Translation is one resolved result. Values are replaced whole, never
// patched in place.
type Translation struct {
	Translated     string `json:"translated"`
	CandidateID    string `json:"candidate_id,omitempty"`
	Source         string `json:"source"`
	UsedLang       string `json:"used_lang"`
	ParentVerified bool   `json:"parent_verified"`
	CachedAt       string `json:"cached_at"`
}

type namespaces struct {
	Search     map[string][]string          `json:"search"`
	Labels     map[string]map[string]string `json:"labels"`
	Hierarchy  map[string]bool              `json:"hierarchy"`
	InstanceOf map[string][]string          `json:"instance_of"`
}

type document struct {
	Metadata     Metadata               `json:"metadata"`
	Translations map[string]Translation `json:"translations"`
	Cache        namespaces             `json:"cache"`
}

// Store is the in-memory working copy of the cache document. All methods are
// safe for concurrent use; FlushIfNeeded and Save run under the same mutex
// as the mutators, so a flush never observes a half-updated document.
type Store struct {
	mu  sync.Mutex
	doc document

	path      string
	dirty     int
	lastFlush time.Time
	maxDirty  int
	interval  time.Duration
	logger    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger (default zap.NewNop).
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithFlushThresholds overrides the dirty-count and elapsed-time flush
// triggers.
func WithFlushThresholds(maxDirty int, interval time.Duration) Option {
	return func(s *Store) {
		if maxDirty > 0 {
			s.maxDirty = maxDirty
		}
		if interval > 0 {
			s.interval = interval
		}
	}
}

// Load opens the cache at path. A missing file yields an empty store at the
// current schema version. A version mismatch or an unreadable document
// renames the existing file to a timestamped backup and yields an empty
// store; neither case is an error.
func Load(path, sourceLang, targetLang string, opts ...Option) *Store {
	s := &Store{
		path:      path,
		maxDirty:  DefaultMaxDirty,
		interval:  DefaultFlushInterval,
		lastFlush: time.Now(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.doc = emptyDocument(sourceLang, targetLang)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s
	}
	if err != nil {
		s.logger.Warn("cache unreadable, starting empty", zap.String("path", path), zap.Error(err))
		return s
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("cache corrupt, backing up and starting empty",
			zap.String("path", path), zap.Error(err))
		s.backupExisting()
		return s
	}
	if doc.Metadata.Version != SchemaVersion {
		s.logger.Warn("cache schema version mismatch, backing up and starting empty",
			zap.String("path", path),
			zap.String("found", doc.Metadata.Version),
			zap.String("want", SchemaVersion))
		s.backupExisting()
		return s
	}

	normalize(&doc)
	s.doc = doc
	return s
}

func emptyDocument(sourceLang, targetLang string) document {
	return document{
		Metadata: Metadata{
			SourceLang: sourceLang,
			TargetLang: targetLang,
			Version:    SchemaVersion,
			CreatedAt:  time.Now().Format(time.RFC3339),
		},
		Translations: make(map[string]Translation),
		Cache: namespaces{
			Search:     make(map[string][]string),
			Labels:     make(map[string]map[string]string),
			Hierarchy:  make(map[string]bool),
			InstanceOf: make(map[string][]string),
		},
	}
}

// normalize fills in nil maps from hand-edited or partial documents.
func normalize(doc *document) {
	if doc.Translations == nil {
		doc.Translations = make(map[string]Translation)
	}
	if doc.Cache.Search == nil {
		doc.Cache.Search = make(map[string][]string)
	}
	if doc.Cache.Labels == nil {
		doc.Cache.Labels = make(map[string]map[string]string)
	}
	if doc.Cache.Hierarchy == nil {
		doc.Cache.Hierarchy = make(map[string]bool)
	}
	if doc.Cache.InstanceOf == nil {
		doc.Cache.InstanceOf = make(map[string][]string)
	}
}

// backupExisting renames the on-disk file out of the way. The original is
// never deleted or overwritten in place.
func (s *Store) backupExisting() {
	backup := fmt.Sprintf("%s.bak-%s", s.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(s.path, backup); err != nil {
		s.logger.Warn("cache backup failed", zap.String("path", s.path), zap.Error(err))
		return
	}
	s.logger.Info("cache backed up", zap.String("backup", backup))
}

// Path returns the on-disk location of the store.
func (s *Store) Path() string { return s.path }

// Meta returns a copy of the document metadata.
func (s *Store) Meta() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Metadata
}

// Translation looks up a final result by item id.
func (s *Store) Translation(id string) (Translation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.doc.Translations[id]
	return t, ok
}

// SetTranslation records a final result. In-memory only; callers pair this
// with MarkDirty and FlushIfNeeded.
func (s *Store) SetTranslation(id string, t Translation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Translations[id] = t
}

// SearchResults looks up cached candidate ids for an item.
func (s *Store) SearchResults(id string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.doc.Cache.Search[id]
	if !ok {
		return nil, false
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out, true
}

// SetSearchResults caches a candidate list, including empty ones: a name
// with no matches should not be searched again next run.
func (s *Store) SetSearchResults(id string, candidates []string) {
	ids := make([]string, len(candidates))
	copy(ids, candidates)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Cache.Search[id] = ids
}

// LabelSet looks up the cached multi-language labels for an entity.
func (s *Store) LabelSet(qid string) (map[string]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	labels, ok := s.doc.Cache.Labels[qid]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out, true
}

func (s *Store) SetLabelSet(qid string, labels map[string]string) {
	cp := make(map[string]string, len(labels))
	for k, v := range labels {
		cp[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Cache.Labels[qid] = cp
}

// InstanceOf looks up cached classification type ids for an entity.
func (s *Store) InstanceOf(qid string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	types, ok := s.doc.Cache.InstanceOf[qid]
	if !ok {
		return nil, false
	}
	out := make([]string, len(types))
	copy(out, types)
	return out, true
}

func (s *Store) SetInstanceOf(qid string, types []string) {
	cp := make([]string, len(types))
	copy(cp, types)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Cache.InstanceOf[qid] = cp
}

func hierarchyKey(candidate, ancestor string) string {
	return candidate + "_" + ancestor
}

// Ancestor looks up a cached containment-check outcome.
func (s *Store) Ancestor(candidate, ancestor string) (result, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok = s.doc.Cache.Hierarchy[hierarchyKey(candidate, ancestor)]
	return result, ok
}

func (s *Store) SetAncestor(candidate, ancestor string, result bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Cache.Hierarchy[hierarchyKey(candidate, ancestor)] = result
}

// Counts reports per-namespace entry counts.
type Counts struct {
	Translations int
	Search       int
	Labels       int
	Hierarchy    int
	InstanceOf   int
}

func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{
		Translations: len(s.doc.Translations),
		Search:       len(s.doc.Cache.Search),
		Labels:       len(s.doc.Cache.Labels),
		Hierarchy:    len(s.doc.Cache.Hierarchy),
		InstanceOf:   len(s.doc.Cache.InstanceOf),
	}
}

// MarkDirty records one unflushed mutation.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty++
}

// FlushIfNeeded persists the document when forced, or when the dirty count
// or elapsed time since the last flush exceeds its threshold. A write
// failure is logged and the dirty state kept, so the next call retries;
// flushing never fails the caller.
func (s *Store) FlushIfNeeded(force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty == 0 && !force {
		return
	}
	if !force && s.dirty < s.maxDirty && time.Since(s.lastFlush) < s.interval {
		return
	}
	if err := s.saveLocked(); err != nil {
		s.logger.Warn("cache flush failed, will retry", zap.String("path", s.path), zap.Error(err))
	}
}

// Save persists the document unconditionally.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	s.dirty = 0
	s.lastFlush = time.Now()
	return nil
}
