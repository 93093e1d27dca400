// Package translator orchestrates batch place-name translation: a three
// phase pipeline (candidate search, candidate filtering, label resolution
// with hierarchy disambiguation) over a dataset, backed by the durable cache
// and a rate-limited remote knowledge client.
//
// Failures stay item-scoped: a remote error degrades one item to the
// untranslated-original fallback and never aborts the batch. The only hard
// failures happen in dataset construction, before any remote call.
package translator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/immich-geodata/placekit/cachestore"
	"github.com/immich-geodata/placekit/dataset"
)

// KnowledgeClient is the remote surface the pipeline needs. *wikidata.Client
// satisfies it; tests substitute stubs.
type KnowledgeClient interface {
	Search(ctx context.Context, name string) ([]string, error)
	BatchGetLabels(ctx context.Context, qids []string) (map[string]map[string]string, error)
	BatchGetInstanceOf(ctx context.Context, qids []string) (map[string][]string, error)
	VerifyAncestor(ctx context.Context, candidate, ancestor string) (bool, error)
	ConvertTitle(ctx context.Context, title string) (string, error)
}

// Candidate is the metadata handed to a candidate filter.
type Candidate struct {
	ID         string
	Labels     map[string]string
	InstanceOf []string
}

// CandidateFilter decides whether a search candidate may represent the named
// place. Returning false removes the candidate from consideration.
type CandidateFilter func(name string, c Candidate) bool

// Options tunes one BatchTranslate run.
type Options struct {
	// ExpectedAncestors maps item id to the entity id the chosen candidate
	// should be contained in; used for hierarchy disambiguation.
	ExpectedAncestors map[string]string
	// CandidateFilter, when set, enables the filter phase.
	CandidateFilter CandidateFilter
	// OnProgress is called after each item reaches a final result.
	OnProgress func(done, total int)
}

// Translator runs the pipeline. Safe for concurrent use as long as the
// store and client are (both are).
type Translator struct {
	client KnowledgeClient
	store  *cachestore.Store
	policy Policy
	logger *zap.Logger
}

// New builds a Translator. The logger may be nil.
func New(client KnowledgeClient, store *cachestore.Store, policy Policy, logger *zap.Logger) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &Translator{client: client, store: store, policy: policy, logger: logger}
}

type pendingItem struct {
	item       dataset.Item
	candidates []string
}

// BatchTranslate resolves every item in ds and returns a map from item id to
// its translation. The map always covers every processed item: an item that
// could not be translated resolves to its original name with source
// "original" rather than going missing.
//
// On cancellation the partial map accumulated so far is returned together
// with the context error, after one forced cache flush.
func (t *Translator) BatchTranslate(ctx context.Context, ds *dataset.Dataset, opts Options) (map[string]cachestore.Translation, error) {
	total := ds.Len()
	results := make(map[string]cachestore.Translation, total)
	progress := func() {
		if opts.OnProgress != nil {
			opts.OnProgress(len(results), total)
		}
	}

	// Search phase: cached translations short-circuit, everything else
	// gets a candidate list from the search cache or the remote service.
	t.logger.Info("search phase", zap.Int("items", total))
	pending := make([]pendingItem, 0, total)
	for _, it := range ds.Items() {
		if err := ctx.Err(); err != nil {
			return t.finish(results, err)
		}
		if cached, ok := t.store.Translation(it.ID); ok {
			results[it.ID] = cached
			progress()
			continue
		}
		candidates, ok := t.store.SearchResults(it.ID)
		if !ok {
			found, err := t.client.Search(ctx, it.OriginalName)
			if err != nil {
				if ctx.Err() != nil {
					return t.finish(results, ctx.Err())
				}
				t.logger.Warn("search failed, item degrades to original name",
					zap.String("name", it.OriginalName), zap.Error(err))
				found = nil
			} else {
				t.store.SetSearchResults(it.ID, found)
				t.store.MarkDirty()
			}
			candidates = found
		}
		pending = append(pending, pendingItem{item: it, candidates: candidates})
	}

	// Filter phase: one batched labels + classification fetch across the
	// whole dataset, then the per-candidate predicate.
	if opts.CandidateFilter != nil && len(pending) > 0 {
		t.logger.Info("filter phase", zap.Int("items", len(pending)))
		var all []string
		for _, p := range pending {
			all = append(all, p.candidates...)
		}
		labels := t.cachedLabels(ctx, all)
		types := t.cachedInstanceOf(ctx, all)
		removed := 0
		for i := range pending {
			if err := ctx.Err(); err != nil {
				return t.finish(results, err)
			}
			kept := make([]string, 0, len(pending[i].candidates))
			for _, qid := range pending[i].candidates {
				c := Candidate{ID: qid, Labels: labels[qid], InstanceOf: types[qid]}
				if opts.CandidateFilter(pending[i].item.OriginalName, c) {
					kept = append(kept, qid)
				} else {
					removed++
				}
			}
			pending[i].candidates = kept
		}
		if removed > 0 {
			t.logger.Info("candidates filtered out", zap.Int("removed", removed))
		}
	}

	// Resolve phase: one batched label fetch for the union of remaining
	// candidates, then per-item selection and an immediate cache write so a
	// crash loses at most the in-flight item.
	t.logger.Info("resolve phase", zap.Int("items", len(pending)))
	var union []string
	for _, p := range pending {
		union = append(union, p.candidates...)
	}
	allLabels := t.cachedLabels(ctx, union)

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return t.finish(results, err)
		}
		it := p.item
		if len(p.candidates) == 0 {
			t.commit(it.ID, cachestore.Translation{
				Translated: it.OriginalName,
				Source:     SourceOriginal,
				UsedLang:   UsedLangOriginal,
			}, results)
			progress()
			continue
		}

		selected := ""
		verified := false
		if ancestor := opts.ExpectedAncestors[it.ID]; ancestor != "" {
			for _, qid := range p.candidates {
				if t.cachedAncestor(ctx, qid, ancestor) {
					selected = qid
					verified = true
					break
				}
			}
		}
		if selected == "" {
			selected = p.candidates[0]
		}

		sel := t.policy.Select(ctx, allLabels[selected], it.OriginalName)
		t.commit(it.ID, cachestore.Translation{
			Translated:     sel.Text,
			CandidateID:    selected,
			Source:         sel.Source,
			UsedLang:       sel.UsedLang,
			ParentVerified: verified,
		}, results)
		progress()
	}

	return t.finish(results, nil)
}

func (t *Translator) finish(results map[string]cachestore.Translation, err error) (map[string]cachestore.Translation, error) {
	t.store.FlushIfNeeded(true)
	return results, err
}

func (t *Translator) commit(id string, tr cachestore.Translation, results map[string]cachestore.Translation) {
	tr.CachedAt = time.Now().Format(time.RFC3339)
	t.store.SetTranslation(id, tr)
	t.store.MarkDirty()
	t.store.FlushIfNeeded(false)
	results[id] = tr
}

// cachedLabels resolves label sets through the labels namespace, fetching
// only uncached entities from the remote service. A remote failure yields
// whatever subset is known; resolution degrades per entity.
func (t *Translator) cachedLabels(ctx context.Context, qids []string) map[string]map[string]string {
	result := make(map[string]map[string]string)
	var missing []string
	seen := make(map[string]struct{}, len(qids))
	for _, qid := range qids {
		if _, dup := seen[qid]; dup {
			continue
		}
		seen[qid] = struct{}{}
		if labels, ok := t.store.LabelSet(qid); ok {
			result[qid] = labels
		} else {
			missing = append(missing, qid)
		}
	}
	if len(missing) == 0 {
		return result
	}
	fetched, err := t.client.BatchGetLabels(ctx, missing)
	if err != nil {
		t.logger.Warn("batch label fetch incomplete", zap.Int("requested", len(missing)), zap.Error(err))
	}
	for qid, labels := range fetched {
		t.store.SetLabelSet(qid, labels)
		t.store.MarkDirty()
		result[qid] = labels
	}
	return result
}

func (t *Translator) cachedInstanceOf(ctx context.Context, qids []string) map[string][]string {
	result := make(map[string][]string)
	var missing []string
	seen := make(map[string]struct{}, len(qids))
	for _, qid := range qids {
		if _, dup := seen[qid]; dup {
			continue
		}
		seen[qid] = struct{}{}
		if types, ok := t.store.InstanceOf(qid); ok {
			result[qid] = types
		} else {
			missing = append(missing, qid)
		}
	}
	if len(missing) == 0 {
		return result
	}
	fetched, err := t.client.BatchGetInstanceOf(ctx, missing)
	if err != nil {
		t.logger.Warn("batch classification fetch incomplete", zap.Int("requested", len(missing)), zap.Error(err))
	}
	for qid, types := range fetched {
		t.store.SetInstanceOf(qid, types)
		t.store.MarkDirty()
		result[qid] = types
	}
	return result
}

// cachedAncestor resolves one containment check through the hierarchy
// namespace. Only definitive outcomes are cached; a failed check degrades to
// false and stays uncached so a later run can retry it.
func (t *Translator) cachedAncestor(ctx context.Context, candidate, ancestor string) bool {
	if result, ok := t.store.Ancestor(candidate, ancestor); ok {
		return result
	}
	result, err := t.client.VerifyAncestor(ctx, candidate, ancestor)
	if err != nil {
		t.logger.Warn("ancestor check failed",
			zap.String("candidate", candidate), zap.String("ancestor", ancestor), zap.Error(err))
		return false
	}
	t.store.SetAncestor(candidate, ancestor, result)
	t.store.MarkDirty()
	return result
}
