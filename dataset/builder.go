package dataset

import (
	"fmt"
	"strings"
)

// Builder constructs datasets from raw rows for one country and language
// pair. Validation is eager: the first bad row fails the whole build and no
// partial dataset is produced.
type Builder struct {
	// CountryCode heads every parent chain (e.g. "KR").
	CountryCode string
	SourceLang  string
	TargetLang  string
}

// Admin2Options tunes BuildAdmin2.
type Admin2Options struct {
	// Dedupe collapses rows sharing (parent, name), keeping the first
	// occurrence. Off by default: same-named districts under different
	// parents are legitimately distinct, and repeated raw rows may carry
	// distinct metadata the caller wants preserved.
	Dedupe bool
	// MetadataFields are copied from each row into the item metadata bag.
	MetadataFields []string
}

// BuildAdmin1 builds a province-level dataset from rows. Rows sharing a name
// always collapse to one item (first occurrence wins): at this level the
// parent chain is just the country, so equal names are the same entity.
func (b Builder) BuildAdmin1(rows []Row, nameField string) (*Dataset, error) {
	seen := make(map[string]struct{}, len(rows))
	items := make([]Item, 0, len(rows))
	for i, row := range rows {
		name, err := fieldOf(row, nameField, i)
		if err != nil {
			return nil, err
		}
		it, err := NewItem(Admin1, name, b.SourceLang, b.TargetLang, []string{b.CountryCode}, nil)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		items = append(items, it)
	}
	return &Dataset{level: Admin1, sourceLang: b.SourceLang, targetLang: b.TargetLang, items: items}, nil
}

// BuildAdmin2 builds a district-level dataset. Each item's parent chain is
// (country, parent name) so same-named districts under different parents get
// distinct ids.
func (b Builder) BuildAdmin2(rows []Row, parentField, nameField string, opts Admin2Options) (*Dataset, error) {
	seen := make(map[string]struct{}, len(rows))
	items := make([]Item, 0, len(rows))
	for i, row := range rows {
		parent, err := fieldOf(row, parentField, i)
		if err != nil {
			return nil, err
		}
		name, err := fieldOf(row, nameField, i)
		if err != nil {
			return nil, err
		}
		meta := collectMetadata(row, opts.MetadataFields)
		it, err := NewItem(Admin2, name, b.SourceLang, b.TargetLang, []string{b.CountryCode, parent}, meta)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if opts.Dedupe {
			if _, dup := seen[it.ID]; dup {
				continue
			}
			seen[it.ID] = struct{}{}
		}
		items = append(items, it)
	}
	return &Dataset{level: Admin2, sourceLang: b.SourceLang, targetLang: b.TargetLang, items: items}, nil
}

func fieldOf(row Row, name string, index int) (string, error) {
	v, ok := row.Field(name)
	if !ok {
		return "", fmt.Errorf("%w: %q on row %d", ErrMissingField, name, index)
	}
	return strings.TrimSpace(v), nil
}

func collectMetadata(row Row, fields []string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	meta := make(map[string]string, len(fields))
	for _, f := range fields {
		if v, ok := row.Field(f); ok {
			meta[f] = v
		}
	}
	return meta
}
