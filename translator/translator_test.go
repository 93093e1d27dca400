package translator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immich-geodata/placekit/cachestore"
	"github.com/immich-geodata/placekit/dataset"
)

// stubClient serves canned responses and counts every remote call so tests
// can assert cache hits.
type stubClient struct {
	searches   map[string][]string
	searchErr  map[string]error
	labels     map[string]map[string]string
	types      map[string][]string
	ancestors  map[string]bool // "candidate_ancestor"
	titleTo    map[string]string
	callCounts map[string]int
}

func newStubClient() *stubClient {
	return &stubClient{
		searches:   make(map[string][]string),
		searchErr:  make(map[string]error),
		labels:     make(map[string]map[string]string),
		types:      make(map[string][]string),
		ancestors:  make(map[string]bool),
		titleTo:    make(map[string]string),
		callCounts: make(map[string]int),
	}
}

func (s *stubClient) Search(ctx context.Context, name string) ([]string, error) {
	s.callCounts["search"]++
	if err := s.searchErr[name]; err != nil {
		return nil, err
	}
	return s.searches[name], nil
}

func (s *stubClient) BatchGetLabels(ctx context.Context, qids []string) (map[string]map[string]string, error) {
	s.callCounts["labels"]++
	out := make(map[string]map[string]string)
	for _, qid := range qids {
		if l, ok := s.labels[qid]; ok {
			out[qid] = l
		}
	}
	return out, nil
}

func (s *stubClient) BatchGetInstanceOf(ctx context.Context, qids []string) (map[string][]string, error) {
	s.callCounts["types"]++
	out := make(map[string][]string)
	for _, qid := range qids {
		out[qid] = s.types[qid]
	}
	return out, nil
}

func (s *stubClient) VerifyAncestor(ctx context.Context, candidate, ancestor string) (bool, error) {
	s.callCounts["ancestor"]++
	return s.ancestors[candidate+"_"+ancestor], nil
}

func (s *stubClient) ConvertTitle(ctx context.Context, title string) (string, error) {
	s.callCounts["title"]++
	if to, ok := s.titleTo[title]; ok {
		return to, nil
	}
	return title, nil
}

func buildDataset(t *testing.T, rows ...map[string]string) *dataset.Dataset {
	t.Helper()
	b := dataset.Builder{CountryCode: "KR", SourceLang: "ko", TargetLang: "zh-tw"}
	raw := make([]dataset.Row, len(rows))
	for i, m := range rows {
		raw[i] = dataset.MapRow(m)
	}
	ds, err := b.BuildAdmin2(raw, "sidonm", "sggnm", dataset.Admin2Options{})
	require.NoError(t, err)
	return ds
}

func newTestStore(t *testing.T) *cachestore.Store {
	t.Helper()
	return cachestore.Load(filepath.Join(t.TempDir(), "cache.json"), "ko", "zh-tw")
}

func TestBatchTranslateHierarchyDisambiguation(t *testing.T) {
	ds := buildDataset(t,
		map[string]string{"sidonm": "서울특별시", "sggnm": "성동구"},
		map[string]string{"sidonm": "부산광역시", "sggnm": "해운대구"},
	)

	client := newStubClient()
	// Seoul's Seongdong: the wrong same-named candidate ranks first.
	client.searches["성동구"] = []string{"Q_WRONG", "Q_RIGHT"}
	client.searches["해운대구"] = []string{"Q_HAEUNDAE"}
	client.labels["Q_RIGHT"] = map[string]string{"zh-tw": "城東區"}
	client.labels["Q_WRONG"] = map[string]string{"zh-tw": "城東區 (別處)"}
	client.labels["Q_HAEUNDAE"] = map[string]string{"zh-tw": "海雲臺區"}
	client.ancestors["Q_RIGHT_Q8684"] = true

	store := newTestStore(t)
	tr := New(client, store, testPolicy(), nil)

	seoulID := ds.At(0).ID
	busanID := ds.At(1).ID
	results, err := tr.BatchTranslate(context.Background(), ds, Options{
		ExpectedAncestors: map[string]string{
			seoulID: "Q8684",
			busanID: "Q16520",
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	seoul := results[seoulID]
	assert.Equal(t, "Q_RIGHT", seoul.CandidateID)
	assert.Equal(t, "城東區", seoul.Translated)
	assert.True(t, seoul.ParentVerified)
	assert.Equal(t, SourceRemote, seoul.Source)

	// No candidate verified under Busan: ranked-first fallback, unverified.
	busan := results[busanID]
	assert.Equal(t, "Q_HAEUNDAE", busan.CandidateID)
	assert.Equal(t, "海雲臺區", busan.Translated)
	assert.False(t, busan.ParentVerified)
}

func TestBatchTranslateCandidateFilter(t *testing.T) {
	ds := buildDataset(t, map[string]string{"sidonm": "서울특별시", "sggnm": "중구"})

	client := newStubClient()
	client.searches["중구"] = []string{"Q_BAD", "Q_GOOD"}
	client.labels["Q_GOOD"] = map[string]string{"zh-tw": "中區"}
	client.types["Q_BAD"] = []string{"Q4167410"}
	client.types["Q_GOOD"] = []string{"Q20630990"}

	store := newTestStore(t)
	tr := New(client, store, testPolicy(), nil)

	results, err := tr.BatchTranslate(context.Background(), ds, Options{
		CandidateFilter: func(name string, c Candidate) bool {
			for _, typ := range c.InstanceOf {
				if typ == "Q4167410" {
					return false
				}
			}
			return true
		},
	})
	require.NoError(t, err)

	r := results[ds.At(0).ID]
	assert.Equal(t, "Q_GOOD", r.CandidateID)
	assert.Equal(t, "中區", r.Translated)
}

func TestBatchTranslateNoCandidatesDegradesToOriginal(t *testing.T) {
	ds := buildDataset(t, map[string]string{"sidonm": "서울특별시", "sggnm": "없는동네"})

	client := newStubClient()
	store := newTestStore(t)
	tr := New(client, store, testPolicy(), nil)

	results, err := tr.BatchTranslate(context.Background(), ds, Options{})
	require.NoError(t, err)

	r := results[ds.At(0).ID]
	assert.Equal(t, "없는동네", r.Translated)
	assert.Equal(t, SourceOriginal, r.Source)
	assert.Equal(t, UsedLangOriginal, r.UsedLang)
	assert.Empty(t, r.CandidateID)
	assert.False(t, r.ParentVerified)

	// The empty outcome is cached so the next run skips the search too.
	_, cached := store.SearchResults(ds.At(0).ID)
	assert.True(t, cached)
}

func TestBatchTranslateSearchErrorNotCached(t *testing.T) {
	ds := buildDataset(t, map[string]string{"sidonm": "서울특별시", "sggnm": "성동구"})

	client := newStubClient()
	client.searchErr["성동구"] = errors.New("service down")

	store := newTestStore(t)
	tr := New(client, store, testPolicy(), nil)

	results, err := tr.BatchTranslate(context.Background(), ds, Options{})
	require.NoError(t, err, "remote failures stay item-scoped")

	r := results[ds.At(0).ID]
	assert.Equal(t, SourceOriginal, r.Source)

	// A failed search is retryable next run, unlike a true empty result.
	_, cached := store.SearchResults(ds.At(0).ID)
	assert.False(t, cached)
}

func TestBatchTranslateIdempotentSecondRun(t *testing.T) {
	ds := buildDataset(t,
		map[string]string{"sidonm": "서울특별시", "sggnm": "성동구"},
		map[string]string{"sidonm": "부산광역시", "sggnm": "해운대구"},
	)

	client := newStubClient()
	client.searches["성동구"] = []string{"Q_A"}
	client.searches["해운대구"] = []string{"Q_B"}
	client.labels["Q_A"] = map[string]string{"zh-tw": "城東區"}
	client.labels["Q_B"] = map[string]string{"zh-tw": "海雲臺區"}

	store := newTestStore(t)
	tr := New(client, store, testPolicy(), nil)

	first, err := tr.BatchTranslate(context.Background(), ds, Options{})
	require.NoError(t, err)
	require.Len(t, first, 2)
	callsAfterFirst := client.callCounts["search"] + client.callCounts["labels"]
	assert.Positive(t, callsAfterFirst)

	second, err := tr.BatchTranslate(context.Background(), ds, Options{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, callsAfterFirst, client.callCounts["search"]+client.callCounts["labels"],
		"a fully cached run makes no remote calls")
}

func TestBatchTranslateProgressCallback(t *testing.T) {
	ds := buildDataset(t,
		map[string]string{"sidonm": "서울특별시", "sggnm": "성동구"},
		map[string]string{"sidonm": "부산광역시", "sggnm": "해운대구"},
	)

	client := newStubClient()
	store := newTestStore(t)
	tr := New(client, store, testPolicy(), nil)

	var reported []int
	_, err := tr.BatchTranslate(context.Background(), ds, Options{
		OnProgress: func(done, total int) {
			assert.Equal(t, 2, total)
			reported = append(reported, done)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, reported)
}

func TestBatchTranslateCancellationReturnsPartial(t *testing.T) {
	ds := buildDataset(t,
		map[string]string{"sidonm": "서울특별시", "sggnm": "성동구"},
		map[string]string{"sidonm": "부산광역시", "sggnm": "해운대구"},
	)

	store := newTestStore(t)

	// The second item's search cancels the run mid-batch.
	ctx, cancel := context.WithCancel(context.Background())
	client := newStubClient()
	client.searches["성동구"] = []string{"Q_A"}
	client.labels["Q_A"] = map[string]string{"zh-tw": "城東區"}
	client.searchErr["해운대구"] = context.Canceled
	cancelingClient := &cancelOnSearchErr{stubClient: client, cancel: cancel}

	tr := New(cancelingClient, store, testPolicy(), nil)
	results, err := tr.BatchTranslate(ctx, ds, Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, len(results), ds.Len(), "partial results, not the full batch")
}

// cancelOnSearchErr cancels its context the moment a search fails, the way
// a Ctrl-C lands while a request is in flight.
type cancelOnSearchErr struct {
	*stubClient
	cancel context.CancelFunc
}

func (c *cancelOnSearchErr) Search(ctx context.Context, name string) ([]string, error) {
	ids, err := c.stubClient.Search(ctx, name)
	if err != nil {
		c.cancel()
	}
	return ids, err
}

func TestBatchTranslateAncestorChecksCached(t *testing.T) {
	ds := buildDataset(t, map[string]string{"sidonm": "서울특별시", "sggnm": "성동구"})

	client := newStubClient()
	client.searches["성동구"] = []string{"Q_A"}
	client.labels["Q_A"] = map[string]string{"zh-tw": "城東區"}
	client.ancestors["Q_A_Q8684"] = true

	store := newTestStore(t)
	tr := New(client, store, testPolicy(), nil)

	opts := Options{ExpectedAncestors: map[string]string{ds.At(0).ID: "Q8684"}}
	_, err := tr.BatchTranslate(context.Background(), ds, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, client.callCounts["ancestor"])

	verified, ok := store.Ancestor("Q_A", "Q8684")
	require.True(t, ok)
	assert.True(t, verified)
}

func TestBatchTranslatePersistsResults(t *testing.T) {
	ds := buildDataset(t, map[string]string{"sidonm": "서울특별시", "sggnm": "성동구"})

	client := newStubClient()
	client.searches["성동구"] = []string{"Q_A"}
	client.labels["Q_A"] = map[string]string{"zh-tw": "城東區"}

	path := filepath.Join(t.TempDir(), "cache.json")
	store := cachestore.Load(path, "ko", "zh-tw")
	tr := New(client, store, testPolicy(), nil)

	_, err := tr.BatchTranslate(context.Background(), ds, Options{})
	require.NoError(t, err)

	// The final forced flush makes a separate process see everything.
	reloaded := cachestore.Load(path, "ko", "zh-tw")
	got, ok := reloaded.Translation(ds.At(0).ID)
	require.True(t, ok)
	assert.Equal(t, "城東區", got.Translated)
	assert.NotEmpty(t, got.CachedAt)
}
