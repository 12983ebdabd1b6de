// Package resolver selects concrete package versions for an instance from
// the metadata snapshot. Resolution is pure: no I/O, no clock, no
// randomness, so the same input always yields the same plan.
package resolver

import (
	"sort"

	"github.com/allay-dev/allay/internal/pkgcache"
	"github.com/allay-dev/allay/internal/version"
	allayerrors "github.com/allay-dev/allay/pkg/errors"
)

// UserRequester marks constraints coming from the instance configuration
// rather than from another package's dependency list.
const UserRequester = "user"

// Request is one explicitly requested package.
type Request struct {
	Package    string
	Constraint version.Pattern
}

// Input carries everything a resolution reads. Resolve never mutates it and
// never blocks, so concurrent resolutions may share a snapshot.
type Input struct {
	Requests []Request
	Snapshot *pkgcache.Snapshot

	// Installed maps package id to the version currently installed. It only
	// biases selection: an installed version satisfying every constraint is
	// kept over a newer one.
	Installed map[string]string
}

// ResolvedPackage is one selected package version.
type ResolvedPackage struct {
	Package  string
	Version  string
	Provider string

	// RequiredBy lists the packages that pulled this one in, sorted. Empty
	// means the package was requested directly.
	RequiredBy []string
}

// Plan is the outcome of a successful resolution. Packages holds every
// selected package in topological order, dependencies strictly before
// dependents. ToInstall is the subset whose selected version is not the
// installed one, in plan order. ToUninstall lists installed packages that
// left the set, dependents first.
type Plan struct {
	Packages    []ResolvedPackage
	ToInstall   []ResolvedPackage
	ToUninstall []string
}

// Resolve computes the plan for the given requests. It fails with
// NotFoundError, ConflictError, or CycleError; on failure no plan exists and
// nothing was mutated anywhere.
func Resolve(in Input) (*Plan, error) {
	r := newResolution(in)

	for _, req := range in.Requests {
		r.require(pkgcache.Normalize(req.Package), req.Constraint, UserRequester)
	}

	for len(r.queue) > 0 {
		pkg := r.queue[0]
		r.queue = r.queue[1:]
		r.inQueue[pkg] = false

		if err := r.process(pkg); err != nil {
			return nil, err
		}
	}

	if err := r.checkExclusions(); err != nil {
		return nil, err
	}
	if err := r.checkCycles(); err != nil {
		return nil, err
	}

	return r.plan(r.order()), nil
}

type constraintEntry struct {
	pattern   version.Pattern
	requester string
}

type resolution struct {
	snap      *pkgcache.Snapshot
	installed map[string]string

	// present is requested ∪ installed: the set that activates optional
	// extensions.
	present map[string]bool

	// requested ids keep an empty RequiredBy in the plan.
	requested map[string]bool

	// constraints accumulate per package and are never retracted, even when
	// the version that contributed them is abandoned. conKeys dedupes
	// (requester, pattern) pairs so reprocessing terminates.
	constraints map[string][]constraintEntry
	conKeys     map[string]map[string]bool

	selected   map[string]string
	requiredBy map[string]map[string]bool

	// reach assigns each package the index of its first appearance in the
	// work set; ordering ties break on it so request order wins.
	reach      map[string]int
	reachOrder []string

	queue   []string
	inQueue map[string]bool
}

func newResolution(in Input) *resolution {
	r := &resolution{
		snap:        in.Snapshot,
		installed:   make(map[string]string, len(in.Installed)),
		present:     make(map[string]bool),
		requested:   make(map[string]bool, len(in.Requests)),
		constraints: make(map[string][]constraintEntry),
		conKeys:     make(map[string]map[string]bool),
		selected:    make(map[string]string),
		requiredBy:  make(map[string]map[string]bool),
		reach:       make(map[string]int),
		inQueue:     make(map[string]bool),
	}

	for pkg, ver := range in.Installed {
		id := pkgcache.Normalize(pkg)
		r.installed[id] = ver
		r.present[id] = true
	}
	for _, req := range in.Requests {
		id := pkgcache.Normalize(req.Package)
		r.present[id] = true
		r.requested[id] = true
	}

	return r
}

// require records a constraint on pkg and queues it for (re)processing when
// the (requester, pattern) pair is new.
func (r *resolution) require(pkg string, pattern version.Pattern, requester string) {
	if _, seen := r.reach[pkg]; !seen {
		r.reach[pkg] = len(r.reachOrder)
		r.reachOrder = append(r.reachOrder, pkg)
	}

	if requester != UserRequester {
		set := r.requiredBy[pkg]
		if set == nil {
			set = make(map[string]bool)
			r.requiredBy[pkg] = set
		}
		set[requester] = true
	}

	key := requester + "\x00" + pattern.String()
	keys := r.conKeys[pkg]
	if keys == nil {
		keys = make(map[string]bool)
		r.conKeys[pkg] = keys
	}
	if keys[key] {
		return
	}
	keys[key] = true

	r.constraints[pkg] = append(r.constraints[pkg], constraintEntry{pattern: pattern, requester: requester})
	if !r.inQueue[pkg] {
		r.inQueue[pkg] = true
		r.queue = append(r.queue, pkg)
	}
}

// process (re)selects a version for pkg against its accumulated constraints
// and, when the selection changed, walks the chosen version's dependency
// list.
func (r *resolution) process(pkg string) error {
	declared := r.snap.Versions(pkg)
	if len(declared) == 0 {
		return allayerrors.NewNotFoundError(pkg, r.firstRequester(pkg))
	}

	entries := r.constraints[pkg]
	var candidates []string
	for _, v := range declared {
		satisfiesAll := true
		for _, e := range entries {
			if !e.pattern.Matches(v, declared) {
				satisfiesAll = false
				break
			}
		}
		if satisfiesAll {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return allayerrors.NewConflictError(pkg, r.requirements(pkg))
	}

	// Newest match wins unless the installed version still satisfies
	// everything; keeping it minimizes churn.
	chosen := candidates[len(candidates)-1]
	if inst, ok := r.installed[pkg]; ok && containsString(candidates, inst) {
		chosen = inst
	}

	if prev, ok := r.selected[pkg]; ok && prev == chosen {
		return nil
	}
	r.selected[pkg] = chosen

	record, ok := r.snap.Get(pkg, chosen)
	if !ok {
		return allayerrors.NewNotFoundError(pkg, r.firstRequester(pkg))
	}

	for _, dep := range record.Dependencies {
		r.require(pkgcache.Normalize(dep.Package), dep.Constraint, pkg)
	}

	// Optional extensions join only when the instance already carries them;
	// they are never auto-requested.
	for _, ext := range record.Extensions {
		id := pkgcache.Normalize(ext)
		if r.present[id] {
			r.require(id, version.Any, pkg)
		}
	}

	return nil
}

// checkExclusions enforces conflicts declarations: a selected package naming
// another selected package fails the resolution outright.
func (r *resolution) checkExclusions() error {
	for _, pkg := range r.reachOrder {
		record, ok := r.snap.Get(pkg, r.selected[pkg])
		if !ok {
			continue
		}
		for _, conflicting := range record.Conflicts {
			excluded := pkgcache.Normalize(conflicting)
			if excluded == pkg {
				continue
			}
			if _, selectedToo := r.selected[excluded]; selectedToo {
				return allayerrors.NewExclusionError(pkg, excluded)
			}
		}
	}
	return nil
}

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// checkCycles runs an iterative depth-first search over the chosen-version
// dependency edges and reports the full path of the first cycle found.
func (r *resolution) checkCycles() error {
	edges := r.dependencyEdges()
	color := make(map[string]int, len(edges))

	type frame struct {
		pkg  string
		next int
	}

	for _, root := range r.reachOrder {
		if color[root] != colorWhite {
			continue
		}

		stack := []frame{{pkg: root}}
		path := []string{root}
		color[root] = colorGray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := edges[top.pkg]

			if top.next >= len(deps) {
				color[top.pkg] = colorBlack
				stack = stack[:len(stack)-1]
				path = path[:len(path)-1]
				continue
			}

			next := deps[top.next]
			top.next++

			switch color[next] {
			case colorWhite:
				color[next] = colorGray
				path = append(path, next)
				stack = append(stack, frame{pkg: next})
			case colorGray:
				start := 0
				for i, p := range path {
					if p == next {
						start = i
						break
					}
				}
				cycle := append([]string{}, path[start:]...)
				cycle = append(cycle, next)
				return allayerrors.NewCycleError(cycle)
			}
		}
	}

	return nil
}

// order runs Kahn's algorithm over the chosen-version dependency edges.
// Among ready packages the lowest first-reach index goes first, so output
// follows request order and is fully deterministic. checkCycles ran already,
// so every package drains.
func (r *resolution) order() []string {
	edges := r.dependencyEdges()

	indegree := make(map[string]int, len(r.selected))
	dependents := make(map[string][]string, len(r.selected))
	for _, pkg := range r.reachOrder {
		for _, dep := range edges[pkg] {
			indegree[pkg]++
			dependents[dep] = append(dependents[dep], pkg)
		}
	}

	var ready []string
	for _, pkg := range r.reachOrder {
		if indegree[pkg] == 0 {
			ready = append(ready, pkg)
		}
	}

	ordered := make([]string, 0, len(r.selected))
	for len(ready) > 0 {
		min := 0
		for i := 1; i < len(ready); i++ {
			if r.reach[ready[i]] < r.reach[ready[min]] {
				min = i
			}
		}
		pkg := ready[min]
		ready = append(ready[:min], ready[min+1:]...)
		ordered = append(ordered, pkg)

		for _, dependent := range dependents[pkg] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	return ordered
}

// dependencyEdges maps each selected package to the dependencies of its
// chosen version. Extensions contribute no edge.
func (r *resolution) dependencyEdges() map[string][]string {
	edges := make(map[string][]string, len(r.selected))
	for _, pkg := range r.reachOrder {
		ver, ok := r.selected[pkg]
		if !ok {
			continue
		}
		record, ok := r.snap.Get(pkg, ver)
		if !ok {
			continue
		}
		var deps []string
		for _, d := range record.Dependencies {
			deps = append(deps, pkgcache.Normalize(d.Package))
		}
		edges[pkg] = deps
	}
	return edges
}

func (r *resolution) plan(ordered []string) *Plan {
	plan := &Plan{}

	for _, pkg := range ordered {
		ver := r.selected[pkg]
		provider, _ := r.snap.Provider(pkg)

		resolved := ResolvedPackage{
			Package:  pkg,
			Version:  ver,
			Provider: provider,
		}
		if !r.requested[pkg] {
			resolved.RequiredBy = sortedKeys(r.requiredBy[pkg])
		}

		plan.Packages = append(plan.Packages, resolved)
		if r.installed[pkg] != ver {
			plan.ToInstall = append(plan.ToInstall, resolved)
		}
	}

	plan.ToUninstall = r.uninstalls()
	return plan
}

// uninstalls lists installed packages absent from the resolved set,
// dependents first so nothing is removed while something still installed
// depends on it.
func (r *resolution) uninstalls() []string {
	var leaving []string
	for pkg := range r.installed {
		if _, kept := r.selected[pkg]; !kept {
			leaving = append(leaving, pkg)
		}
	}
	if len(leaving) == 0 {
		return nil
	}
	sort.Strings(leaving)

	leavingSet := make(map[string]bool, len(leaving))
	for _, pkg := range leaving {
		leavingSet[pkg] = true
	}

	// Edges recovered from the snapshot where the installed version is
	// still declared; unknown versions contribute no ordering.
	indegree := make(map[string]int, len(leaving))
	dependents := make(map[string][]string, len(leaving))
	for _, pkg := range leaving {
		record, ok := r.snap.Get(pkg, r.installed[pkg])
		if !ok {
			continue
		}
		for _, d := range record.Dependencies {
			dep := pkgcache.Normalize(d.Package)
			if leavingSet[dep] {
				indegree[pkg]++
				dependents[dep] = append(dependents[dep], pkg)
			}
		}
	}

	var ready []string
	for _, pkg := range leaving {
		if indegree[pkg] == 0 {
			ready = append(ready, pkg)
		}
	}

	ordered := make([]string, 0, len(leaving))
	for len(ready) > 0 {
		sort.Strings(ready)
		pkg := ready[0]
		ready = ready[1:]
		ordered = append(ordered, pkg)

		for _, dependent := range dependents[pkg] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	// Stale installed metadata can form a cycle; append the stragglers in
	// lexicographic order rather than dropping them.
	if len(ordered) < len(leaving) {
		placed := make(map[string]bool, len(ordered))
		for _, pkg := range ordered {
			placed[pkg] = true
		}
		for _, pkg := range leaving {
			if !placed[pkg] {
				ordered = append(ordered, pkg)
			}
		}
	}

	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered
}

func (r *resolution) firstRequester(pkg string) string {
	entries := r.constraints[pkg]
	if len(entries) == 0 {
		return ""
	}
	return entries[0].requester
}

func (r *resolution) requirements(pkg string) []allayerrors.Requirement {
	entries := r.constraints[pkg]
	reqs := make([]allayerrors.Requirement, len(entries))
	for i, e := range entries {
		reqs[i] = allayerrors.Requirement{Requester: e.requester, Constraint: e.pattern.String()}
	}
	return reqs
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
