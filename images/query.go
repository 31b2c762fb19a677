package images

import (
	"strings"
	"time"
)

// ImageFilter holds the optional criteria accepted by List.
//
// DateFrom and DateTo are accepted but not applied: BuildPredicate ignores
// them.
type ImageFilter struct {
	Filename string
	Tag      string
	DateFrom *time.Time
	DateTo   *time.Time
}

// Normalize treats blank filter terms as absent. Non-blank terms are kept
// verbatim, surrounding whitespace included.
func (f ImageFilter) Normalize() ImageFilter {
	if strings.TrimSpace(f.Filename) == "" {
		f.Filename = ""
	}
	if strings.TrimSpace(f.Tag) == "" {
		f.Tag = ""
	}
	return f
}

// Predicate is the backend-neutral form of a scan condition. Every set
// field must hold for a record to match; the zero value matches all.
type Predicate struct {
	// FilenameContains is a case-sensitive substring of the stored filename.
	FilenameContains string
	// Tag must equal at least one element of the record's tags.
	Tag string
}

// BuildPredicate turns a filter into a scan predicate.
func BuildPredicate(f ImageFilter) Predicate {
	f = f.Normalize()
	return Predicate{
		FilenameContains: f.Filename,
		Tag:              f.Tag,
	}
}

// MatchAll reports whether p places no condition on records.
func (p Predicate) MatchAll() bool {
	return p.FilenameContains == "" && p.Tag == ""
}

// Matches evaluates p against r in process.
func (p Predicate) Matches(r *ImageRecord) bool {
	if p.FilenameContains != "" && !strings.Contains(r.Filename, p.FilenameContains) {
		return false
	}
	if p.Tag != "" && !containsTag(r.Tags, p.Tag) {
		return false
	}
	return true
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
