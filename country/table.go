package country

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/immich-geodata/placekit/translator"
)

// tables embeds the per-country admin mapping files.
//
//go:embed data/*.yaml
var tables embed.FS

// table is the YAML schema of a country data file.
type table struct {
	Country     string            `yaml:"country"`
	SourceLang  string            `yaml:"source_lang"`
	Admin1Field string            `yaml:"admin1_field"`
	Admin2Field string            `yaml:"admin2_field"`
	Parents     map[string]string `yaml:"parents"`
	// ExcludeTypes extends the housekeeping blocklist with country-specific
	// entity types that share names with administrative seats.
	ExcludeTypes []string `yaml:"exclude_types"`
}

// mustLoadTable parses an embedded table. Embedded data that fails to parse
// is a build defect, so this panics from the handlers' init functions.
func mustLoadTable(name string) table {
	data, err := tables.ReadFile("data/" + name + ".yaml")
	if err != nil {
		panic(fmt.Sprintf("country: reading embedded table %s: %v", name, err))
	}
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		panic(fmt.Sprintf("country: parsing embedded table %s: %v", name, err))
	}
	return t
}

// base implements Handler from a loaded table. Country types embed it and
// stay free to override individual methods.
type base struct {
	t       table
	exclude map[string]bool
}

func newBase(name string) base {
	t := mustLoadTable(name)
	exclude := make(map[string]bool, len(t.ExcludeTypes))
	for _, q := range t.ExcludeTypes {
		exclude[q] = true
	}
	return base{t: t, exclude: exclude}
}

func (b base) Code() string                       { return b.t.Country }
func (b base) SourceLang() string                 { return b.t.SourceLang }
func (b base) Admin1Field() string                { return b.t.Admin1Field }
func (b base) Admin2Field() string                { return b.t.Admin2Field }
func (b base) ExpectedParents() map[string]string { return b.t.Parents }

func (b base) CandidateFilter() translator.CandidateFilter {
	return func(name string, c translator.Candidate) bool {
		if !DefaultCandidateFilter(name, c) {
			return false
		}
		for _, t := range c.InstanceOf {
			if b.exclude[t] {
				return false
			}
		}
		return true
	}
}
