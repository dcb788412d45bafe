package royalty

import (
	"fmt"
	"sort"
	"sync"
)

// =============================================================================
// FORMAT REGISTRY
// =============================================================================

// Format is a sales format such as physical, ebook or audiobook.
// Tiers, sales and returns are all keyed by format.
type Format string

const (
	FormatPhysical  Format = "physical"
	FormatEbook     Format = "ebook"
	FormatAudiobook Format = "audiobook"
)

var (
	formatRegistry = map[Format]int{}
	formatMu       sync.RWMutex
)

func init() {
	RegisterFormat(FormatPhysical)
	RegisterFormat(FormatEbook)
	RegisterFormat(FormatAudiobook)
}

// RegisterFormat adds a format to the registry. Registration order is the
// order formats appear in statements. Registering twice is a no-op.
func RegisterFormat(f Format) {
	formatMu.Lock()
	defer formatMu.Unlock()
	if _, ok := formatRegistry[f]; ok {
		return
	}
	formatRegistry[f] = len(formatRegistry)
}

// IsKnownFormat reports whether f has been registered.
func IsKnownFormat(f Format) bool {
	formatMu.RLock()
	defer formatMu.RUnlock()
	_, ok := formatRegistry[f]
	return ok
}

// ParseFormat returns the registered format named s.
func ParseFormat(s string) (Format, error) {
	f := Format(s)
	if !IsKnownFormat(f) {
		return "", fmt.Errorf("unknown format %q", s)
	}
	return f, nil
}

// ListFormats returns registered formats in canonical order.
func ListFormats() []Format {
	formatMu.RLock()
	defer formatMu.RUnlock()
	out := make([]Format, 0, len(formatRegistry))
	for f := range formatRegistry {
		out = append(out, f)
	}
	sortFormatsLocked(out)
	return out
}

// SortFormats orders formats canonically: registered formats by registration
// order, then unregistered ones alphabetically.
func SortFormats(formats []Format) {
	formatMu.RLock()
	defer formatMu.RUnlock()
	sortFormatsLocked(formats)
}

func sortFormatsLocked(formats []Format) {
	sort.SliceStable(formats, func(i, j int) bool {
		oi, iok := formatRegistry[formats[i]]
		oj, jok := formatRegistry[formats[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return formats[i] < formats[j]
		}
	})
}
