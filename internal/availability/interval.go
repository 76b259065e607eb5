package availability

import "sort"

// span is a half-open interval [start, end) in unix seconds. Working on the
// absolute timeline keeps DST transitions out of the interval arithmetic.
type span struct {
	start, end int64
	remote     bool
}

func (s span) length() int64 { return s.end - s.start }

// merge sorts spans and joins any that overlap or touch. A joined span is
// remote only if every part was remote.
func merge(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	sorted := make([]span, 0, len(spans))
	for _, s := range spans {
		if s.end > s.start {
			sorted = append(sorted, s)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].start != sorted[j].start {
			return sorted[i].start < sorted[j].start
		}
		return sorted[i].end < sorted[j].end
	})

	var out []span
	for _, s := range sorted {
		if n := len(out); n > 0 && s.start <= out[n-1].end {
			last := &out[n-1]
			if s.end > last.end {
				last.end = s.end
			}
			last.remote = last.remote && s.remote
			continue
		}
		out = append(out, s)
	}
	return out
}

// complement returns the gaps in busy (sorted, merged) within [lo, hi).
func complement(busy []span, lo, hi int64) []span {
	var out []span
	cur := lo
	for _, b := range busy {
		if b.end <= cur {
			continue
		}
		if b.start >= hi {
			break
		}
		if b.start > cur {
			out = append(out, span{start: cur, end: b.start})
		}
		if b.end > cur {
			cur = b.end
		}
	}
	if cur < hi {
		out = append(out, span{start: cur, end: hi})
	}
	return out
}

// intersect keeps the parts of free that fall inside allowed. Both inputs are
// sorted and non-overlapping; the result takes allowed's remote flag.
func intersect(free, allowed []span) []span {
	var out []span
	i, j := 0, 0
	for i < len(free) && j < len(allowed) {
		s := max(free[i].start, allowed[j].start)
		e := min(free[i].end, allowed[j].end)
		if s < e {
			out = append(out, span{start: s, end: e, remote: allowed[j].remote})
		}
		if free[i].end < allowed[j].end {
			i++
		} else {
			j++
		}
	}
	return out
}
