package cachestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadNonExistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	s := Load(path, "ko", "zh-tw")

	meta := s.Meta()
	assert.Equal(t, SchemaVersion, meta.Version)
	assert.Equal(t, "ko", meta.SourceLang)
	assert.Equal(t, "zh-tw", meta.TargetLang)
	assert.NotEmpty(t, meta.CreatedAt)
	assert.Equal(t, Counts{}, s.Counts())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	s := Load(path, "ko", "zh-tw")
	s.SetTranslation("item-1", Translation{
		Translated:     "城東區",
		CandidateID:    "Q50432",
		Source:         "remote",
		UsedLang:       "zh-tw",
		ParentVerified: true,
		CachedAt:       time.Now().Format(time.RFC3339),
	})
	s.SetSearchResults("item-1", []string{"Q50432", "Q1234"})
	s.SetLabelSet("Q50432", map[string]string{"zh-tw": "城東區", "en": "Seongdong District"})
	s.SetAncestor("Q50432", "Q8684", true)
	s.SetInstanceOf("Q50432", []string{"Q20630990"})
	require.NoError(t, s.Save())

	s2 := Load(path, "ko", "zh-tw")
	tr, ok := s2.Translation("item-1")
	require.True(t, ok)
	assert.Equal(t, "城東區", tr.Translated)
	assert.Equal(t, "Q50432", tr.CandidateID)
	assert.True(t, tr.ParentVerified)

	ids, ok := s2.SearchResults("item-1")
	require.True(t, ok)
	assert.Equal(t, []string{"Q50432", "Q1234"}, ids)

	labels, ok := s2.LabelSet("Q50432")
	require.True(t, ok)
	assert.Equal(t, "城東區", labels["zh-tw"])

	verified, ok := s2.Ancestor("Q50432", "Q8684")
	require.True(t, ok)
	assert.True(t, verified)

	types, ok := s2.InstanceOf("Q50432")
	require.True(t, ok)
	assert.Equal(t, []string{"Q20630990"}, types)

	assert.Equal(t, Counts{Translations: 1, Search: 1, Labels: 1, Hierarchy: 1, InstanceOf: 1}, s2.Counts())
}

func TestEmptySearchResultsAreCached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	s := Load(path, "ko", "zh-tw")

	s.SetSearchResults("item-none", nil)
	ids, ok := s.SearchResults("item-none")
	require.True(t, ok, "an empty candidate list is still a cached outcome")
	assert.Empty(t, ids)

	require.NoError(t, s.Save())
	s2 := Load(path, "ko", "zh-tw")
	_, ok = s2.SearchResults("item-none")
	assert.True(t, ok)
}

func TestVersionMismatchBacksUpAndStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	old := `{"metadata":{"source_lang":"ko","target_lang":"zh-tw","version":"1.0"},"translations":{"x":{"translated":"y","source":"remote","used_lang":"zh-tw"}}}`
	require.NoError(t, os.WriteFile(path, []byte(old), 0o644))

	s := Load(path, "ko", "zh-tw")
	assert.Equal(t, Counts{}, s.Counts(), "old data must never be merged")
	assert.Equal(t, SchemaVersion, s.Meta().Version)

	// Original moved aside, not deleted.
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	backups, err := filepath.Glob(path + ".bak-*")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.JSONEq(t, old, string(data))
}

func TestCorruptFileBacksUpAndStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := Load(path, "ko", "zh-tw")
	assert.Equal(t, Counts{}, s.Counts())

	backups, err := filepath.Glob(path + ".bak-*")
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestLoadNormalizesPartialDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	partial := `{"metadata":{"version":"` + SchemaVersion + `"}}`
	require.NoError(t, os.WriteFile(path, []byte(partial), 0o644))

	s := Load(path, "ko", "zh-tw")
	// No panic on nil namespaces, and mutation works.
	s.SetAncestor("Q1", "Q2", false)
	verified, ok := s.Ancestor("Q1", "Q2")
	require.True(t, ok)
	assert.False(t, verified)
}

func TestFlushIfNeededThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	s := Load(path, "ko", "zh-tw", WithFlushThresholds(3, time.Hour))

	s.SetTranslation("a", Translation{Translated: "A", Source: "remote", UsedLang: "zh-tw"})
	s.MarkDirty()
	s.FlushIfNeeded(false)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "below both thresholds, no write")

	s.MarkDirty()
	s.MarkDirty()
	s.FlushIfNeeded(false)
	_, err = os.Stat(path)
	assert.NoError(t, err, "dirty count reached the threshold")
}

func TestFlushIfNeededForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	s := Load(path, "ko", "zh-tw", WithFlushThresholds(100, time.Hour))

	s.SetTranslation("a", Translation{Translated: "A", Source: "remote", UsedLang: "zh-tw"})
	s.MarkDirty()
	s.FlushIfNeeded(true)

	s2 := Load(path, "ko", "zh-tw")
	_, ok := s2.Translation("a")
	assert.True(t, ok)
}

func TestFlushIfNeededNothingDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	s := Load(path, "ko", "zh-tw")

	s.FlushIfNeeded(false)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAccessorsReturnCopies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	s := Load(path, "ko", "zh-tw")

	s.SetSearchResults("id", []string{"Q1", "Q2"})
	ids, _ := s.SearchResults("id")
	ids[0] = "mutated"
	fresh, _ := s.SearchResults("id")
	assert.Equal(t, "Q1", fresh[0])

	s.SetLabelSet("Q1", map[string]string{"en": "One"})
	labels, _ := s.LabelSet("Q1")
	labels["en"] = "mutated"
	fresh2, _ := s.LabelSet("Q1")
	assert.Equal(t, "One", fresh2["en"])
}

func TestSaveCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "cache.json")
	s := Load(path, "ja", "zh-tw")
	s.SetTranslation("a", Translation{Translated: "A", Source: "original", UsedLang: "original"})
	require.NoError(t, s.Save())

	s2 := Load(path, "ja", "zh-tw")
	_, ok := s2.Translation("a")
	assert.True(t, ok)
}
