package graph

// Recursive is §4.10's per-path recursion mode: none, a fixed local
// depth limit, or full (bounded only by the controller's global
// ceiling).
type Recursive struct {
	kind  recurseKind
	depth int
}

type recurseKind int

const (
	recurseNone recurseKind = iota
	recurseDepthLimit
	recurseFull
)

func RecurseNone() Recursive { return Recursive{kind: recurseNone} }
func RecurseFull() Recursive { return Recursive{kind: recurseFull} }

// RecurseDepthLimit bounds recursion under this path to n levels in
// total, counting the level it fetched: n <= 1 fetches that level only.
func RecurseDepthLimit(n int) Recursive {
	if n < 0 {
		n = 0
	}
	return Recursive{kind: recurseDepthLimit, depth: n}
}

// initialRemaining is the remaining-hops budget to carry into the first
// recursive call below the level this mode was resolved at. -1 means
// unlimited.
func (r Recursive) initialRemaining() int {
	switch r.kind {
	case recurseFull:
		return -1
	case recurseDepthLimit:
		if r.depth <= 0 {
			return 0
		}
		return r.depth - 1
	default:
		return 0
	}
}

// Spec is §4.10's typed path specification: include(path), exclude(path),
// include_all(recursive_mode), with_fetcher(path, custom_fetcher). A
// path is a dot-joined chain of relationship index names, e.g.
// "comments.author"; the empty-prefix root level is never itself a
// path.
type Spec struct {
	includes map[string]Recursive
	excludes map[string]struct{}
	fetchers map[string]Fetcher

	hasDefault     bool
	defaultRecurse Recursive
}

func NewSpec() *Spec {
	return &Spec{
		includes: make(map[string]Recursive),
		excludes: make(map[string]struct{}),
		fetchers: make(map[string]Fetcher),
	}
}

// Include declares path followed with the given recursion mode.
func (s *Spec) Include(path string, recurse Recursive) *Spec {
	s.includes[path] = recurse
	delete(s.excludes, path)
	return s
}

// Exclude prunes path and everything below it, overriding IncludeAll.
func (s *Spec) Exclude(path string) *Spec {
	s.excludes[path] = struct{}{}
	delete(s.includes, path)
	return s
}

// IncludeAll sets the catch-all recursion mode applied to any path with
// no explicit Include/Exclude rule of its own (and not declared as a
// child of an already-resolved Include/Exclude ancestor).
func (s *Spec) IncludeAll(recurse Recursive) *Spec {
	s.hasDefault = true
	s.defaultRecurse = recurse
	return s
}

// WithFetcher overrides the fetcher used for path, taking precedence
// over the index-keyed fetcher table passed to Build.
func (s *Spec) WithFetcher(path string, fetcher Fetcher) *Spec {
	s.fetchers[path] = fetcher
	return s
}

func (s *Spec) fetcherFor(path string) (Fetcher, bool) {
	f, ok := s.fetchers[path]
	return f, ok
}

// resolveChild decides whether path should be followed and with what
// recursion budget, given the inherited mode and remaining-hops budget
// from its parent path. An explicit Include/Exclude rule for path
// always wins; absent one, a parent in Full or unexhausted
// DepthLimit mode is inherited, and a root-level (no parent) path falls
// back to IncludeAll.
func (s *Spec) resolveChild(path string, inherited Recursive, inheritedRemaining int) (Recursive, int, bool) {
	if _, excluded := s.excludes[path]; excluded {
		return Recursive{}, 0, false
	}
	if r, ok := s.includes[path]; ok {
		return r, r.initialRemaining(), true
	}

	switch inherited.kind {
	case recurseFull:
		return inherited, -1, true
	case recurseDepthLimit:
		if inheritedRemaining <= 0 {
			return Recursive{}, 0, false
		}
		return inherited, inheritedRemaining - 1, true
	default:
		if s.hasDefault {
			return s.defaultRecurse, s.defaultRecurse.initialRemaining(), true
		}
		return Recursive{}, 0, false
	}
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + "." + segment
}
