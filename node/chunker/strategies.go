package chunker

import "github.com/ragflow/ragflow/api/types"

type span struct {
	start, end int
}

func (s span) len() int { return s.end - s.start }

// SlidingWindow cuts r into windows of size characters, each starting
// size-overlap after the previous one.
func SlidingWindow(r []rune, size, overlap int) []types.Chunk {
	step := size - overlap
	if size <= 0 || step <= 0 {
		return nil
	}

	var out []types.Chunk
	for i, idx := 0, 0; i < len(r); i, idx = i+step, idx+1 {
		end := i + size
		if end > len(r) {
			end = len(r)
		}
		out = append(out, newChunk(r, idx, i, end))
	}
	return out
}

func isTerminator(c rune) bool {
	return c == '.' || c == '!' || c == '?'
}

// sentenceSpans finds runs of non-terminators followed by their run of
// terminators (or the end of text). Terminators with nothing before them
// are skipped.
func sentenceSpans(r []rune) []span {
	var out []span
	for i := 0; i < len(r); {
		if isTerminator(r[i]) {
			i++
			continue
		}
		start := i
		for i < len(r) && !isTerminator(r[i]) {
			i++
		}
		for i < len(r) && isTerminator(r[i]) {
			i++
		}
		out = append(out, span{start, i})
	}
	return out
}

// Sentences groups adjacent sentences while the group stays within size
// characters. A sentence longer than size becomes a chunk of its own.
func Sentences(r []rune, size int) []types.Chunk {
	var (
		out   []types.Chunk
		group span
		have  bool
	)

	for _, s := range sentenceSpans(r) {
		if !have {
			group, have = s, true
			continue
		}

		if group.len()+s.len() > size && group.len() > 0 {
			out = append(out, newChunk(r, len(out), group.start, group.end))
			group = s
			continue
		}
		group.end = s.end
	}

	if have {
		out = append(out, newChunk(r, len(out), group.start, group.end))
	}
	return out
}

var separators = [][]rune{[]rune("\n\n"), []rune("\n"), []rune(". ")}

// RecursiveSplit breaks pieces longer than size on blank lines, then line
// breaks, then sentence ends, dropping the separators and empty pieces, and
// finally slices each piece into size windows. Offsets point into r.
func RecursiveSplit(r []rune, size int) []types.Chunk {
	if size <= 0 || len(r) == 0 {
		return nil
	}

	pieces := []span{{0, len(r)}}
	for _, sep := range separators {
		next := make([]span, 0, len(pieces))
		for _, p := range pieces {
			if p.len() > size {
				next = append(next, splitSpan(r, p, sep)...)
				continue
			}
			next = append(next, p)
		}
		pieces = next
	}

	var out []types.Chunk
	for _, p := range pieces {
		for s := p.start; s < p.end; s += size {
			end := s + size
			if end > p.end {
				end = p.end
			}
			out = append(out, newChunk(r, len(out), s, end))
		}
	}
	return out
}

func splitSpan(r []rune, p span, sep []rune) []span {
	var out []span
	last := p.start
	for i := p.start; i+len(sep) <= p.end; {
		if hasPrefix(r[i:], sep) {
			if i > last {
				out = append(out, span{last, i})
			}
			i += len(sep)
			last = i
			continue
		}
		i++
	}
	if last < p.end {
		out = append(out, span{last, p.end})
	}
	return out
}

func hasPrefix(r, prefix []rune) bool {
	if len(r) < len(prefix) {
		return false
	}
	for i := range prefix {
		if r[i] != prefix[i] {
			return false
		}
	}
	return true
}
