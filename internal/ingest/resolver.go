package ingest

import "sort"

// Score ranks duplicate rows for the same code. Ordering is lexicographic
// over the named fields; a candidate replaces the incumbent only when it is
// strictly greater, so on full ties the first row seen wins.
type Score struct {
	// LastModified is the parsed last_modified_t, or -1 when absent.
	LastModified int64
	// Nutrients is the number of nutrient observations the row produced.
	Nutrients int
	// Fields is how many of the completeness columns were non-empty.
	Fields int
}

// Greater reports whether s ranks strictly above o.
func (s Score) Greater(o Score) bool {
	if s.LastModified != o.LastModified {
		return s.LastModified > o.LastModified
	}
	if s.Nutrients != o.Nutrients {
		return s.Nutrients > o.Nutrients
	}
	return s.Fields > o.Fields
}

// Resolver holds back rows whose code appears more than once in the input
// and keeps only the best-scoring one per code.
type Resolver struct {
	best map[string]Record
}

func NewResolver() *Resolver {
	return &Resolver{best: map[string]Record{}}
}

// Offer records rec as the winner for its code if it outscores the incumbent.
func (r *Resolver) Offer(rec Record) {
	existing, ok := r.best[rec.CodeNorm]
	if !ok || rec.Score.Greater(existing.Score) {
		r.best[rec.CodeNorm] = rec
	}
}

// Len returns the number of codes currently held back.
func (r *Resolver) Len() int { return len(r.best) }

// Drain returns the winning record per code, ordered by code for
// reproducible output, and empties the resolver.
func (r *Resolver) Drain() []Record {
	codes := make([]string, 0, len(r.best))
	for code := range r.best {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	out := make([]Record, 0, len(codes))
	for _, code := range codes {
		out = append(out, r.best[code])
	}
	r.best = map[string]Record{}
	return out
}
