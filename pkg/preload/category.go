package preload

import (
	"sort"
	"strings"

	"github.com/iancoleman/strcase"

	"github.com/fsbench/fsbench/pkg/common/errkind"
)

// Category is a dynamic-linker diagnostics class.
type Category string

const (
	SymbolLookup  Category = "symbol-lookup"
	Relocation    Category = "relocation"
	SymbolTable   Category = "symbol-table"
	Binding       Category = "binding"
	Version       Category = "version"
	Scope         Category = "scope"
	All           Category = "all"
	Statistics    Category = "statistics"
	UnusedEntries Category = "unused-entries"
)

// linkerTokens maps each category onto the token the dynamic linker reads
// from the diagnostics variable.
var linkerTokens = map[Category]string{
	SymbolLookup:  "libs",
	Relocation:    "reloc",
	SymbolTable:   "symbols",
	Binding:       "bindings",
	Version:       "versions",
	Scope:         "scopes",
	All:           "all",
	Statistics:    "statistics",
	UnusedEntries: "unused",
}

func (c Category) Token() string {
	return linkerTokens[c]
}

func Categories() []Category {
	out := make([]Category, 0, len(linkerTokens))
	for c := range linkerTokens {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseCategory accepts a category in any casing style ("SymbolLookup",
// "symbol_lookup") or the linker's own token ("libs").
func ParseCategory(s string) (Category, error) {
	trimmed := strings.TrimSpace(s)
	c := Category(strcase.ToKebab(trimmed))
	if _, ok := linkerTokens[c]; ok {
		return c, nil
	}
	for cat, token := range linkerTokens {
		if token == strings.ToLower(trimmed) {
			return cat, nil
		}
	}
	return "", errkind.MissingInput("unknown diagnostics category %q", s)
}

func ParseCategories(values []string) ([]Category, error) {
	var out []Category
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			c, err := ParseCategory(part)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	return out, nil
}
