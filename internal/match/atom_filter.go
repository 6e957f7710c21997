// Package match selects atom ids with include/exclude pattern lists.
package match

import (
	"fmt"
	"strconv"
	"strings"
)

// AtomPattern matches atom ids either by a numeric range "lo-hi" or by a '*' wildcard over the decimal id.
// Params: internal range bounds or split wildcard parts.
// Returns: reusable matcher for many Match calls.
type AtomPattern struct {
	isRange bool
	lo, hi  int32

	parts         []string
	anchoredStart bool
	anchoredEnd   bool
	matchAll      bool
}

// CompileAtomPattern compiles one pattern: "*", "100", "10*", "*00" or "100-199" (inclusive).
// Params: pattern text.
// Returns: compiled matcher or error for empty or malformed input.
func CompileAtomPattern(pattern string) (AtomPattern, error) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return AtomPattern{}, fmt.Errorf("empty atom pattern")
	}
	if p == "*" {
		return AtomPattern{matchAll: true}, nil
	}

	if loText, hiText, ok := strings.Cut(p, "-"); ok {
		lo, err := strconv.ParseInt(strings.TrimSpace(loText), 10, 32)
		if err != nil {
			return AtomPattern{}, fmt.Errorf("atom range %q: bad lower bound", p)
		}
		hi, err := strconv.ParseInt(strings.TrimSpace(hiText), 10, 32)
		if err != nil {
			return AtomPattern{}, fmt.Errorf("atom range %q: bad upper bound", p)
		}
		if lo > hi {
			return AtomPattern{}, fmt.Errorf("atom range %q: lower bound above upper", p)
		}
		return AtomPattern{isRange: true, lo: int32(lo), hi: int32(hi)}, nil
	}

	for _, r := range p {
		if r != '*' && (r < '0' || r > '9') {
			return AtomPattern{}, fmt.Errorf("atom pattern %q: only digits and '*' allowed", p)
		}
	}

	return AtomPattern{
		parts:         strings.Split(p, "*"),
		anchoredStart: !strings.HasPrefix(p, "*"),
		anchoredEnd:   !strings.HasSuffix(p, "*"),
	}, nil
}

// Match reports whether id satisfies the pattern.
func (p AtomPattern) Match(id int32) bool {
	if p.matchAll {
		return true
	}
	if p.isRange {
		return id >= p.lo && id <= p.hi
	}
	return p.matchText(strconv.FormatInt(int64(id), 10))
}

func (p AtomPattern) matchText(value string) bool {
	if len(p.parts) == 0 {
		return false
	}

	cursor := 0
	partIndex := 0
	if p.anchoredStart {
		head := p.parts[0]
		if !strings.HasPrefix(value, head) {
			return false
		}
		cursor = len(head)
		partIndex = 1
	}

	last := len(p.parts) - 1
	limit := len(p.parts)
	if p.anchoredEnd {
		limit = last
	}

	for ; partIndex < limit; partIndex++ {
		segment := p.parts[partIndex]
		if segment == "" {
			continue
		}
		offset := strings.Index(value[cursor:], segment)
		if offset < 0 {
			return false
		}
		cursor += offset + len(segment)
	}

	if p.anchoredEnd {
		// Without a wildcard the whole id must equal the pattern.
		if last == 0 {
			return value == p.parts[0]
		}
		return strings.HasSuffix(value[cursor:], p.parts[last])
	}
	return true
}

// AtomFilter keeps atoms matching any include pattern and no exclude pattern.
// An empty include list admits every atom.
type AtomFilter struct {
	include []AtomPattern
	exclude []AtomPattern
}

// NewAtomFilter compiles include and exclude lists.
// Params: include and exclude pattern texts.
// Returns: filter or first compile error.
func NewAtomFilter(include, exclude []string) (AtomFilter, error) {
	var (
		out AtomFilter
		err error
	)
	if out.include, err = compileAll(include); err != nil {
		return AtomFilter{}, fmt.Errorf("include: %w", err)
	}
	if out.exclude, err = compileAll(exclude); err != nil {
		return AtomFilter{}, fmt.Errorf("exclude: %w", err)
	}
	return out, nil
}

func compileAll(patterns []string) ([]AtomPattern, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	compiled := make([]AtomPattern, 0, len(patterns))
	for _, pattern := range patterns {
		parsed, err := CompileAtomPattern(pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, parsed)
	}
	return compiled, nil
}

// Allows reports whether id passes the filter.
// Params: id atom identifier.
// Returns: true when included and not excluded.
func (f AtomFilter) Allows(id int32) bool {
	for _, pattern := range f.exclude {
		if pattern.Match(id) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, pattern := range f.include {
		if pattern.Match(id) {
			return true
		}
	}
	return false
}
