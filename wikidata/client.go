// Package wikidata implements the read-only knowledge client used for
// place-name lookup: entity search by name, batched label and classification
// retrieval, transitive P131 containment checks against the SPARQL query
// service, and Wikipedia title normalization.
//
// Every endpoint has its own shared rate limiter, and every call retries
// transient failures with jittered exponential backoff. HTTP 429 responses
// honor the service-provided Retry-After delay. When retries are exhausted
// the returned error wraps ErrRemoteUnavailable, which callers treat as
// "no data for this lookup" rather than a batch failure.
package wikidata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRemoteUnavailable marks a call that failed after exhausting retries.
var ErrRemoteUnavailable = errors.New("remote knowledge service unavailable")

// Default endpoints and service parameters.
const (
	DefaultAPIURL   = "https://www.wikidata.org/w/api.php"
	DefaultQueryURL = "https://query.wikidata.org/sparql"
	DefaultWikiURL  = "https://zh.wikipedia.org/w/api.php"

	DefaultUserAgent = "placekit/1.0 (place-name localization tool)"

	// MaxBatchIDs is the service-imposed ceiling on ids per wbgetentities
	// request.
	MaxBatchIDs = 50

	DefaultSearchLimit = 7
	DefaultMaxRetries  = 5
	DefaultTimeout     = 30 * time.Second

	// Minimum inter-request delays. The query service is throttled harder
	// than the entity and wiki APIs.
	DefaultQueryDelay  = 800 * time.Millisecond
	DefaultEntityDelay = 200 * time.Millisecond
	DefaultWikiDelay   = 200 * time.Millisecond
)

// retryAfterCap bounds how long a 429 can make a single attempt sleep.
const retryAfterCap = 2 * time.Minute

const maxResponseBytes = 8 << 20

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	// SourceLang scopes entity search (e.g. "ko").
	SourceLang string
	// Languages are requested for labels: target language plus fallbacks.
	Languages []string
	// WikiSite is the sitelink folded into label maps under its own key
	// (default "zhwiki").
	WikiSite string

	APIURL   string
	QueryURL string
	WikiURL  string

	UserAgent   string
	QueryDelay  time.Duration
	EntityDelay time.Duration
	WikiDelay   time.Duration
	Timeout     time.Duration
	MaxRetries  int
	SearchLimit int

	Logger *zap.Logger
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Client is safe for concurrent use; the per-endpoint limiters are shared
// across all callers so the aggregate request rate stays within the
// service's limits no matter how many workers call in.
type Client struct {
	http        *http.Client
	logger      *zap.Logger
	sourceLang  string
	languages   []string
	wikiSite    string
	apiURL      string
	queryURL    string
	wikiURL     string
	userAgent   string
	maxRetries  int
	searchLimit int

	queryLim  *rate.Limiter
	entityLim *rate.Limiter
	wikiLim   *rate.Limiter
}

// New builds a Client from opts.
func New(opts Options) *Client {
	c := &Client{
		http:        opts.HTTPClient,
		logger:      opts.Logger,
		sourceLang:  opts.SourceLang,
		languages:   opts.Languages,
		wikiSite:    opts.WikiSite,
		apiURL:      opts.APIURL,
		queryURL:    opts.QueryURL,
		wikiURL:     opts.WikiURL,
		userAgent:   opts.UserAgent,
		maxRetries:  opts.MaxRetries,
		searchLimit: opts.SearchLimit,
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.wikiSite == "" {
		c.wikiSite = "zhwiki"
	}
	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	if c.queryURL == "" {
		c.queryURL = DefaultQueryURL
	}
	if c.wikiURL == "" {
		c.wikiURL = DefaultWikiURL
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.searchLimit <= 0 {
		c.searchLimit = DefaultSearchLimit
	}
	c.queryLim = newLimiter(opts.QueryDelay, DefaultQueryDelay)
	c.entityLim = newLimiter(opts.EntityDelay, DefaultEntityDelay)
	c.wikiLim = newLimiter(opts.WikiDelay, DefaultWikiDelay)
	return c
}

func newLimiter(delay, fallback time.Duration) *rate.Limiter {
	if delay <= 0 {
		delay = fallback
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Search returns ranked candidate entity ids for a name in the source
// language, most relevant first, capped at the configured search limit.
func (c *Client) Search(ctx context.Context, name string) ([]string, error) {
	params := url.Values{
		"action":   {"wbsearchentities"},
		"format":   {"json"},
		"search":   {name},
		"language": {c.sourceLang},
		"uselang":  {c.sourceLang},
		"type":     {"item"},
		"limit":    {strconv.Itoa(c.searchLimit)},
	}
	var out struct {
		Search []struct {
			ID string `json:"id"`
		} `json:"search"`
	}
	if err := c.doGet(ctx, c.entityLim, c.apiURL, params, &out); err != nil {
		return nil, fmt.Errorf("searching %q: %w", name, err)
	}
	ids := make([]string, 0, len(out.Search))
	for _, e := range out.Search {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

type entityPayload struct {
	Labels map[string]struct {
		Value string `json:"value"`
	} `json:"labels"`
	Sitelinks map[string]struct {
		Title string `json:"title"`
	} `json:"sitelinks"`
	Claims map[string][]struct {
		Mainsnak struct {
			Snaktype  string `json:"snaktype"`
			Datavalue struct {
				Type  string `json:"type"`
				Value struct {
					ID string `json:"id"`
				} `json:"value"`
			} `json:"datavalue"`
		} `json:"mainsnak"`
	} `json:"claims"`
}

type entitiesResponse struct {
	Entities map[string]entityPayload `json:"entities"`
}

// BatchGetLabels fetches multi-language label sets for many entities,
// chunked at MaxBatchIDs per request. A failed chunk is logged and skipped;
// the labels from the other chunks are still returned. The configured wiki
// sitelink title, when present, is folded into each label map under the
// sitelink key.
func (c *Client) BatchGetLabels(ctx context.Context, qids []string) (map[string]map[string]string, error) {
	result := make(map[string]map[string]string)
	for _, chunk := range chunks(dedupe(qids), MaxBatchIDs) {
		params := url.Values{
			"action":    {"wbgetentities"},
			"format":    {"json"},
			"ids":       {strings.Join(chunk, "|")},
			"props":     {"labels|sitelinks"},
			"languages": {strings.Join(c.languages, "|")},
		}
		var out entitiesResponse
		if err := c.doGet(ctx, c.entityLim, c.apiURL, params, &out); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			c.logger.Warn("label chunk failed, skipping",
				zap.Int("ids", len(chunk)), zap.Error(err))
			continue
		}
		for qid, ent := range out.Entities {
			labels := make(map[string]string, len(ent.Labels)+1)
			for lang, l := range ent.Labels {
				labels[lang] = l.Value
			}
			if title := ent.Sitelinks[c.wikiSite].Title; title != "" {
				labels[c.wikiSite] = title
			}
			result[qid] = labels
		}
	}
	return result, nil
}

// instanceOfProperty is the classification relation extracted by
// BatchGetInstanceOf.
const instanceOfProperty = "P31"

// BatchGetInstanceOf fetches classification type ids for many entities with
// the same chunking and partial-failure policy as BatchGetLabels.
func (c *Client) BatchGetInstanceOf(ctx context.Context, qids []string) (map[string][]string, error) {
	result := make(map[string][]string)
	for _, chunk := range chunks(dedupe(qids), MaxBatchIDs) {
		params := url.Values{
			"action":    {"wbgetentities"},
			"format":    {"json"},
			"ids":       {strings.Join(chunk, "|")},
			"props":     {"claims"},
			"languages": {"en"},
		}
		var out entitiesResponse
		if err := c.doGet(ctx, c.entityLim, c.apiURL, params, &out); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			c.logger.Warn("classification chunk failed, skipping",
				zap.Int("ids", len(chunk)), zap.Error(err))
			continue
		}
		for qid, ent := range out.Entities {
			var types []string
			for _, claim := range ent.Claims[instanceOfProperty] {
				snak := claim.Mainsnak
				if snak.Snaktype == "value" && snak.Datavalue.Type == "wikibase-entityid" && snak.Datavalue.Value.ID != "" {
					types = append(types, snak.Datavalue.Value.ID)
				}
			}
			result[qid] = types
		}
	}
	return result, nil
}

// VerifyAncestor reports whether candidate is transitively contained in
// ancestor via the P131 "located in" relation.
func (c *Client) VerifyAncestor(ctx context.Context, candidate, ancestor string) (bool, error) {
	query := fmt.Sprintf("ASK { wd:%s (wdt:P131)+ wd:%s . }", candidate, ancestor)
	params := url.Values{
		"query":  {query},
		"format": {"json"},
	}
	var out struct {
		Boolean bool `json:"boolean"`
	}
	if err := c.doGet(ctx, c.queryLim, c.queryURL, params, &out); err != nil {
		return false, fmt.Errorf("verifying %s in %s: %w", candidate, ancestor, err)
	}
	return out.Boolean, nil
}

// ConvertTitle normalizes a wiki title through the converttitles API. On
// failure the original title is returned alongside the error so callers can
// degrade to it.
func (c *Client) ConvertTitle(ctx context.Context, title string) (string, error) {
	params := url.Values{
		"action":        {"query"},
		"format":        {"json"},
		"converttitles": {"1"},
		"titles":        {title},
	}
	var out struct {
		Query struct {
			Converted []struct {
				To string `json:"to"`
			} `json:"converted"`
			Pages map[string]struct {
				Title string `json:"title"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := c.doGet(ctx, c.wikiLim, c.wikiURL, params, &out); err != nil {
		return title, fmt.Errorf("converting title %q: %w", title, err)
	}
	if len(out.Query.Converted) > 0 && out.Query.Converted[0].To != "" {
		return out.Query.Converted[0].To, nil
	}
	for _, page := range out.Query.Pages {
		if page.Title != "" {
			return page.Title, nil
		}
	}
	return title, nil
}

// errRateLimited marks a 429 whose Retry-After sleep already happened.
var errRateLimited = errors.New("rate limited")

func (c *Client) doGet(ctx context.Context, lim *rate.Limiter, endpoint string, params url.Values, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		if err := lim.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			delay := retryAfter(resp.Header)
			c.logger.Warn("rate limited by service",
				zap.String("endpoint", endpoint),
				zap.Duration("retry_after", delay),
				zap.Int("attempt", attempt))
			if err := sleepCtx(ctx, delay); err != nil {
				return backoff.Permanent(err)
			}
			return errRateLimited
		case resp.StatusCode >= 500:
			return fmt.Errorf("server status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
}

// retryAfter reads the Retry-After header, defaulting to 5s and capping the
// wait so a hostile response cannot stall a run.
func retryAfter(h http.Header) time.Duration {
	delay := 5 * time.Second
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			delay = time.Duration(secs) * time.Second
		}
	}
	if delay > retryAfterCap {
		delay = retryAfterCap
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func chunks(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
