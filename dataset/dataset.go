// Package dataset defines the unit of batch translation work: a single
// administrative place name together with its ancestor chain, and immutable
// ordered collections of such items built from raw tabular rows.
//
// Item identity is derived from (level, parent chain, name), so two towns
// that share a name under different provinces stay distinct all the way
// through the cache and the result map.
package dataset

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Validation errors raised during dataset construction. Both are fatal and
// raised before any remote call is made.
var (
	ErrInvalidItem  = errors.New("invalid translation item")
	ErrMissingField = errors.New("missing field")
)

// AdminLevel is a position in the administrative hierarchy.
type AdminLevel int

const (
	Admin1 AdminLevel = iota + 1 // province / prefecture
	Admin2                       // city / district / county
	Admin3
	Admin4
)

func (l AdminLevel) String() string {
	return fmt.Sprintf("admin_%d", int(l))
}

// ParseAdminLevel converts a CLI-style level name ("admin1", "admin_2") to
// an AdminLevel.
func ParseAdminLevel(s string) (AdminLevel, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "admin1":
		return Admin1, nil
	case "admin2":
		return Admin2, nil
	case "admin3":
		return Admin3, nil
	case "admin4":
		return Admin4, nil
	}
	return 0, fmt.Errorf("unknown admin level %q", s)
}

// Row provides named-field access over the caller's table representation.
// The builder never depends on how the table is actually stored.
type Row interface {
	Field(name string) (string, bool)
}

// MapRow adapts a plain map to Row.
type MapRow map[string]string

func (r MapRow) Field(name string) (string, bool) {
	v, ok := r[name]
	return v, ok
}

// Item is one name to translate. Items are value types and never mutated
// after construction.
type Item struct {
	// ID is the deterministic identity derived from (level, parent chain,
	// original name). It is the sole key for final translation results.
	ID           string
	Level        AdminLevel
	OriginalName string
	SourceLang   string
	TargetLang   string
	// ParentChain is the ordered ancestor names, country code first.
	ParentChain []string
	// Metadata is an opaque bag carried through for caller bookkeeping.
	Metadata map[string]string
}

// NewItem validates and builds an Item. The name is trimmed; an empty name
// after trimming or an empty parent chain fails with ErrInvalidItem.
func NewItem(level AdminLevel, name, sourceLang, targetLang string, parentChain []string, metadata map[string]string) (Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Item{}, fmt.Errorf("%w: empty name after trimming", ErrInvalidItem)
	}
	if len(parentChain) == 0 {
		return Item{}, fmt.Errorf("%w: empty parent chain for %q", ErrInvalidItem, name)
	}
	chain := make([]string, len(parentChain))
	for i, p := range parentChain {
		p = strings.TrimSpace(p)
		if p == "" {
			return Item{}, fmt.Errorf("%w: empty parent chain element for %q", ErrInvalidItem, name)
		}
		chain[i] = p
	}
	var meta map[string]string
	if len(metadata) > 0 {
		meta = make(map[string]string, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}
	return Item{
		ID:           deriveID(level, chain, name),
		Level:        level,
		OriginalName: name,
		SourceLang:   sourceLang,
		TargetLang:   targetLang,
		ParentChain:  chain,
		Metadata:     meta,
	}, nil
}

// Parent returns the immediate administrative parent (the last chain element).
func (it Item) Parent() string {
	return it.ParentChain[len(it.ParentChain)-1]
}

func deriveID(level AdminLevel, chain []string, name string) string {
	h := md5.New()
	io.WriteString(h, level.String())
	for _, p := range chain {
		io.WriteString(h, "\x00")
		io.WriteString(h, p)
	}
	io.WriteString(h, "\x00")
	io.WriteString(h, name)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Dataset is an immutable, order-preserving sequence of items sharing one
// level and one language pair.
type Dataset struct {
	level      AdminLevel
	sourceLang string
	targetLang string
	items      []Item
}

func (d *Dataset) Len() int           { return len(d.items) }
func (d *Dataset) Level() AdminLevel  { return d.level }
func (d *Dataset) SourceLang() string { return d.sourceLang }
func (d *Dataset) TargetLang() string { return d.targetLang }
func (d *Dataset) At(i int) Item      { return d.items[i] }

// Items returns a copy of the item sequence in input order.
func (d *Dataset) Items() []Item {
	out := make([]Item, len(d.items))
	copy(out, d.items)
	return out
}

// Stats summarizes a dataset.
type Stats struct {
	Items         int
	UniqueParents int
}

func (d *Dataset) Stats() Stats {
	parents := make(map[string]struct{})
	for _, it := range d.items {
		parents[strings.Join(it.ParentChain, "\x00")] = struct{}{}
	}
	return Stats{Items: len(d.items), UniqueParents: len(parents)}
}
