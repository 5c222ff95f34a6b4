package dictionary

import (
	"context"
	"fmt"

	"github.com/ignite/template-mapper/internal/dataset"
)

// SheetProvider reads dictionaries from a workbook that ships alongside a
// template: each named sheet is one dictionary, its first column the term
// list. Terms load lazily and are cached for the provider's lifetime.
type SheetProvider struct {
	open  func(sheet string) (*dataset.Table, error)
	cache map[string][]string
}

// NewSheetProvider wraps a sheet-opening function, typically a closure over
// dataset.ReadXLSX for one workbook.
func NewSheetProvider(open func(sheet string) (*dataset.Table, error)) *SheetProvider {
	return &SheetProvider{open: open, cache: make(map[string][]string)}
}

func (p *SheetProvider) Terms(_ context.Context, name string) ([]string, error) {
	if terms, ok := p.cache[name]; ok {
		return terms, nil
	}

	tbl, err := p.open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %q: %v", ErrNotFound, name, err)
	}
	if len(tbl.Columns) == 0 {
		return nil, fmt.Errorf("%w: sheet %q is empty", ErrNotFound, name)
	}

	terms, err := tbl.Distinct(tbl.Columns[0])
	if err != nil {
		return nil, fmt.Errorf("dictionary: sheet %q: %w", name, err)
	}
	p.cache[name] = terms
	return terms, nil
}
