// Package country selects per-country dataset field names, expected-parent
// entity mappings, and candidate filters. Handlers are concrete types added
// to an explicit registry at startup; the admin tables they carry are
// embedded YAML.
package country

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/immich-geodata/placekit/translator"
)

// Handler describes one supported country.
type Handler interface {
	// Code is the ISO 3166-1 alpha-2 country code.
	Code() string
	// SourceLang is the language place names are written in upstream.
	SourceLang() string
	// Admin1Field and Admin2Field name the columns carrying province and
	// district names in that country's source tables.
	Admin1Field() string
	Admin2Field() string
	// ExpectedParents maps an admin_1 name to the knowledge-graph entity id
	// used for hierarchy verification of its districts. Unknown names are
	// simply absent; their districts resolve unverified.
	ExpectedParents() map[string]string
	// CandidateFilter excludes search candidates that cannot be the place
	// itself (housekeeping pages, same-named non-geographic entities).
	CandidateFilter() translator.CandidateFilter
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Handler)
)

// Register adds a handler. Duplicate codes are a programming error.
func Register(h Handler) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[h.Code()]; dup {
		panic(fmt.Sprintf("country: duplicate handler for %s", h.Code()))
	}
	registry[h.Code()] = h
}

// Lookup finds the handler for a country code, case-insensitively.
func Lookup(code string) (Handler, bool) {
	mu.RLock()
	defer mu.RUnlock()
	h, ok := registry[strings.ToUpper(code)]
	return h, ok
}

// Codes lists registered country codes, sorted.
func Codes() []string {
	mu.RLock()
	defer mu.RUnlock()
	codes := make([]string, 0, len(registry))
	for c := range registry {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Wikimedia housekeeping entities that shadow real places in search results.
var housekeepingTypes = map[string]bool{
	"Q4167410":  true, // disambiguation page
	"Q13406463": true, // list article
}

// DefaultCandidateFilter rejects candidates classified as housekeeping
// pages. Candidates with no classification data are kept: missing metadata
// must not disqualify a real place.
func DefaultCandidateFilter(_ string, c translator.Candidate) bool {
	for _, t := range c.InstanceOf {
		if housekeepingTypes[t] {
			return false
		}
	}
	return true
}
