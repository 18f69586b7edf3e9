// Package filter decides, per memory region, whether and how a
// synthesized core dump includes it. The decision function is pure;
// callers may substitute any Policy without touching the synthesizer.
package filter

import (
	"os"
	"strings"

	"github.com/corescope/corescope/internal/proc"
	"github.com/corescope/corescope/internal/space"
)

// Decision is the inclusion ruling for one region.
type Decision int

const (
	// Include dumps the region's bytes in full.
	Include Decision = iota
	// Exclude drops the region entirely.
	Exclude
	// TruncateZero emits the region's program header with file size
	// zero: the contents are recoverable from the backing file via
	// the NT_FILE table, so the bytes are omitted to shrink the dump.
	TruncateZero
)

func (d Decision) String() string {
	switch d {
	case Include:
		return "include"
	case Exclude:
		return "exclude"
	case TruncateZero:
		return "truncate"
	}
	return "unknown"
}

// Reason explains a ruling.
type Reason string

const (
	ReasonDefault         Reason = "default"
	ReasonExcludePattern  Reason = "matches exclusion pattern"
	ReasonSharedAnonymous Reason = "shared anonymous mapping"
	ReasonDontDump        Reason = "MADV_DONTDUMP"
	ReasonRecoverableCode Reason = "code recoverable from file"
)

// Classification is the ruling for one scanned region.
type Classification struct {
	Mapping  proc.Mapping
	Decision Decision
	Reason   Reason
}

// Policy classifies regions for the synthesizer.
type Policy interface {
	Classify(m proc.Mapping) Classification
}

// Default is the stock policy. Rules are evaluated in order, first
// match wins:
//
//  1. regions matching an exclusion pattern, shared anonymous regions,
//     and MADV_DONTDUMP regions are excluded;
//  2. execute-only regions whose backing file is present on disk are
//     truncated to zero (the NT_FILE entry lets a reader recover them);
//  3. everything else is included.
type Default struct {
	// ExcludePatterns are substrings matched against the mapping
	// path, e.g. the tool's own injected library or ashmem devices.
	ExcludePatterns []string

	// fileExists overrides the on-disk recoverability check in tests.
	fileExists func(path string) bool
}

// DefaultExcludePatterns covers device-backed mappings whose content
// has no bearing on the target's logical state.
var DefaultExcludePatterns = []string{
	"/dev/ashmem",
	"/dev/binderfs",
	"/memfd:",
}

// NewDefault returns the stock policy with the stock exclusion set.
func NewDefault() *Default {
	return &Default{ExcludePatterns: DefaultExcludePatterns}
}

func (p *Default) Classify(m proc.Mapping) Classification {
	for _, pat := range p.ExcludePatterns {
		if pat != "" && strings.Contains(m.Path, pat) {
			return Classification{m, Exclude, ReasonExcludePattern}
		}
	}
	if m.IsAnonymous() && m.Perm&space.PermShared != 0 {
		return Classification{m, Exclude, ReasonSharedAnonymous}
	}
	if m.DontDump() {
		return Classification{m, Exclude, ReasonDontDump}
	}
	if m.Perm&space.PermExec != 0 && m.Perm&space.PermWrite == 0 &&
		!m.IsAnonymous() && p.recoverable(m.Path) {
		return Classification{m, TruncateZero, ReasonRecoverableCode}
	}
	return Classification{m, Include, ReasonDefault}
}

func (p *Default) recoverable(path string) bool {
	if p.fileExists != nil {
		return p.fileExists(path)
	}
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// IncludeAll includes every region unconditionally; used for full-
// fidelity dumps and round-trip tests.
type IncludeAll struct{}

func (IncludeAll) Classify(m proc.Mapping) Classification {
	return Classification{m, Include, ReasonDefault}
}
