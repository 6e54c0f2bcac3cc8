package solver

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/SandrineP/mamba/internal/specs"
)

// Solver is a backtracking resolver. It prefers keeping installed builds,
// then the best candidate by channel priority, version and build number.
type Solver struct{}

// New returns a Solver.
func New() *Solver { return &Solver{} }

// Solve resolves req against db.
func (s *Solver) Solve(db Database, req *Request) (Outcome, error) {
	if db == nil || req == nil {
		return nil, fmt.Errorf("solve needs a database and a request")
	}

	r := &resolver{
		db:        db,
		flags:     req.Flags,
		installed: make(map[string]specs.PackageRecord),
		required:  make(map[string][]specs.MatchSpec),
		pins:      make(map[string][]specs.MatchSpec),
		frozen:    make(map[string]specs.PackageRecord),
		selected:  make(map[string]specs.PackageRecord),
	}
	for _, rec := range db.Installed() {
		r.installed[rec.Name] = rec
	}

	var roots []string
	for _, job := range req.Jobs {
		Visit(job, JobFuncs{
			Install: func(j Install) {
				if _, ok := r.required[j.Spec.Name]; !ok {
					roots = append(roots, j.Spec.Name)
				}
				r.required[j.Spec.Name] = append(r.required[j.Spec.Name], j.Spec)
			},
			Freeze: func(j Freeze) {
				if rec, ok := r.installed[j.Spec.Name]; ok {
					r.frozen[j.Spec.Name] = rec
				}
			},
			Pin: func(j Pin) {
				r.pins[j.Spec.Name] = append(r.pins[j.Spec.Name], j.Spec)
			},
		})
	}

	var problems []Problem
	for _, name := range roots {
		if prob := r.resolve(name, nil, ""); prob != nil {
			problems = append(problems, *prob)
		}
	}

	// Everything else already installed stays unless it can no longer be
	// satisfied, in which case it is dropped when uninstalls are allowed.
	kept := slices.Sorted(maps.Keys(r.installed))
	for _, name := range kept {
		if _, ok := r.selected[name]; ok {
			continue
		}
		prob := r.resolve(name, nil, "")
		if prob == nil {
			continue
		}
		if _, isFrozen := r.frozen[name]; isFrozen || !r.flags.AllowUninstall {
			problems = append(problems, *prob)
		}
	}

	if len(problems) > 0 {
		return &Unsatisfiable{problems: dedupeProblems(problems)}, nil
	}
	return r.solution(), nil
}

type resolver struct {
	db        Database
	flags     Flags
	installed map[string]specs.PackageRecord
	required  map[string][]specs.MatchSpec
	pins      map[string][]specs.MatchSpec
	frozen    map[string]specs.PackageRecord
	selected  map[string]specs.PackageRecord
}

// resolve selects a record for name satisfying every known constraint plus
// extra, recursing into dependencies and backtracking over candidates.
func (r *resolver) resolve(name string, extra []specs.MatchSpec, neededBy string) *Problem {
	constraints := r.constraintsFor(name, extra)

	if sel, ok := r.selected[name]; ok {
		for _, c := range constraints {
			if !c.Matches(sel) {
				return &Problem{
					Type:        ProblemConflict,
					Package:     name,
					Constraints: specStrings(constraints),
					NeededBy:    neededBy,
					Message:     fmt.Sprintf("%s %s is selected but %s is required", name, sel.Version, c),
				}
			}
		}
		return nil
	}

	candidates := r.candidates(name)
	if len(candidates) == 0 {
		return &Problem{
			Type:        ProblemNothingProvides,
			Package:     name,
			Constraints: specStrings(constraints),
			NeededBy:    neededBy,
			Message:     fmt.Sprintf("nothing provides %s", name),
		}
	}

	var deepest *Problem
	for _, cand := range candidates {
		if !matchesAll(constraints, cand) {
			continue
		}
		saved := maps.Clone(r.selected)
		r.selected[name] = cand
		prob := r.resolveDepends(cand)
		if prob == nil {
			return nil
		}
		if deepest == nil {
			deepest = prob
		}
		r.selected = saved
	}
	if deepest != nil {
		return deepest
	}
	return &Problem{
		Type:        ProblemConflict,
		Package:     name,
		Constraints: specStrings(constraints),
		NeededBy:    neededBy,
		Message:     fmt.Sprintf("no candidate of %s satisfies %s", name, strings.Join(specStrings(constraints), ", ")),
	}
}

func (r *resolver) resolveDepends(rec specs.PackageRecord) *Problem {
	for _, dep := range rec.Depends {
		ms, err := specs.ParseMatchSpec(dep)
		if err != nil {
			return &Problem{
				Type:     ProblemInvalidDepend,
				Package:  rec.Name,
				NeededBy: rec.Dist(),
				Message:  fmt.Sprintf("%s has an invalid dependency %q", rec.Dist(), dep),
			}
		}
		if strings.HasPrefix(ms.Name, "__") {
			// Virtual packages describe the host and are not installable.
			continue
		}
		if prob := r.resolve(ms.Name, []specs.MatchSpec{ms}, rec.Dist()); prob != nil {
			return prob
		}
	}
	return nil
}

func (r *resolver) constraintsFor(name string, extra []specs.MatchSpec) []specs.MatchSpec {
	var out []specs.MatchSpec
	out = append(out, r.required[name]...)
	out = append(out, r.pins[name]...)
	out = append(out, extra...)
	return out
}

// candidates lists records for name in preference order.
func (r *resolver) candidates(name string) []specs.PackageRecord {
	inst, isInstalled := r.installed[name]
	if frozen, ok := r.frozen[name]; ok {
		return []specs.PackageRecord{frozen}
	}
	_, isRequired := r.required[name]
	reinstall := r.flags.ForceReinstall && isRequired

	var out []specs.PackageRecord
	if isInstalled && !reinstall {
		out = append(out, inst)
	}
	for _, cand := range r.db.Candidates(name) {
		if isInstalled {
			if cand.SameBuild(inst) && !reinstall {
				continue
			}
			if !r.flags.AllowDowngrade && cand.ParsedVersion().Compare(inst.ParsedVersion()) < 0 {
				continue
			}
		}
		out = append(out, cand)
	}
	return out
}

func (r *resolver) solution() *Solution {
	sol := &Solution{}
	for _, name := range slices.Sorted(maps.Keys(r.selected)) {
		sel := r.selected[name]
		inst, isInstalled := r.installed[name]
		_, isRequired := r.required[name]
		switch {
		case !isInstalled:
			sol.Link = append(sol.Link, sel)
		case !inst.SameBuild(sel) || (r.flags.ForceReinstall && isRequired):
			sol.Unlink = append(sol.Unlink, inst)
			sol.Link = append(sol.Link, sel)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.installed)) {
		if _, ok := r.selected[name]; !ok {
			sol.Unlink = append(sol.Unlink, r.installed[name])
		}
	}
	sort.Slice(sol.Unlink, func(i, j int) bool { return sol.Unlink[i].Name < sol.Unlink[j].Name })
	return sol
}

func matchesAll(constraints []specs.MatchSpec, rec specs.PackageRecord) bool {
	for _, c := range constraints {
		if !c.Matches(rec) {
			return false
		}
	}
	return true
}

func specStrings(ms []specs.MatchSpec) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.String()
	}
	return out
}

func dedupeProblems(problems []Problem) []Problem {
	seen := make(map[string]bool)
	var out []Problem
	for _, p := range problems {
		key := string(p.Type) + "\x00" + p.Package + "\x00" + p.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}
