// Package solver defines the request handed to the package solver, the
// outcome it returns, and a reference backtracking solver over an in-memory
// package index.
package solver

import "github.com/SandrineP/mamba/internal/specs"

// Job is one solver instruction. The set of job kinds is closed: every
// implementation lives in this file, and consumers dispatch through
// JobVisitor so a new kind fails to compile until every visitor handles it.
type Job interface {
	accept(JobVisitor)
}

// JobVisitor handles each job kind.
type JobVisitor interface {
	VisitInstall(Install)
	VisitFreeze(Freeze)
	VisitPin(Pin)
}

// Install asks the solver to have a package matching Spec in the environment.
type Install struct {
	Spec specs.MatchSpec
}

// Freeze keeps the currently installed build of Spec.Name exactly as is.
type Freeze struct {
	Spec specs.MatchSpec
}

// Pin restricts the versions the solver may pick for Spec.Name without
// requiring the package to be present.
type Pin struct {
	Spec specs.MatchSpec
}

func (j Install) accept(v JobVisitor) { v.VisitInstall(j) }
func (j Freeze) accept(v JobVisitor)  { v.VisitFreeze(j) }
func (j Pin) accept(v JobVisitor)     { v.VisitPin(j) }

// Visit dispatches job to the matching method of v.
func Visit(job Job, v JobVisitor) {
	job.accept(v)
}

// JobFuncs adapts three functions to a JobVisitor. All three must be set.
type JobFuncs struct {
	Install func(Install)
	Freeze  func(Freeze)
	Pin     func(Pin)
}

func (f JobFuncs) VisitInstall(j Install) { f.Install(j) }
func (f JobFuncs) VisitFreeze(j Freeze)   { f.Freeze(j) }
func (f JobFuncs) VisitPin(j Pin)         { f.Pin(j) }

// Flags tunes solver policy.
type Flags struct {
	AllowDowngrade     bool
	AllowUninstall     bool
	ForceReinstall     bool
	StrictRepoPriority bool
}

// DefaultFlags returns the policy used when nothing is configured.
func DefaultFlags() Flags {
	return Flags{
		AllowDowngrade:     true,
		AllowUninstall:     true,
		StrictRepoPriority: true,
	}
}

// Request is an ordered list of jobs plus solver flags. Job order only
// affects diagnostics.
type Request struct {
	Jobs  []Job
	Flags Flags
}

// Pins returns the Pin jobs of r in order.
func (r *Request) Pins() []Pin {
	var pins []Pin
	for _, job := range r.Jobs {
		if p, ok := job.(Pin); ok {
			pins = append(pins, p)
		}
	}
	return pins
}

// Count returns how many jobs of each kind r holds.
func (r *Request) Count() (installs, freezes, pins int) {
	for _, job := range r.Jobs {
		Visit(job, JobFuncs{
			Install: func(Install) { installs++ },
			Freeze:  func(Freeze) { freezes++ },
			Pin:     func(Pin) { pins++ },
		})
	}
	return installs, freezes, pins
}
