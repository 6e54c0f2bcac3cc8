package solver

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/SandrineP/mamba/internal/specs"
)

// Outcome is either a *Solution or an *Unsatisfiable.
type Outcome interface {
	outcome()
}

// Solution lists the records to link into and unlink from the prefix.
// The two lists never hold the same record.
type Solution struct {
	Link   []specs.PackageRecord
	Unlink []specs.PackageRecord
}

func (*Solution) outcome() {}

// Empty reports whether the solution changes nothing.
func (s *Solution) Empty() bool {
	return len(s.Link) == 0 && len(s.Unlink) == 0
}

// ProblemType classifies a solver problem.
type ProblemType string

const (
	ProblemNothingProvides ProblemType = "nothing_provides"
	ProblemConflict        ProblemType = "conflict"
	ProblemInvalidDepend   ProblemType = "invalid_dependency"
)

// Problem is one reason a request could not be satisfied.
type Problem struct {
	Type        ProblemType `json:"type"`
	Package     string      `json:"package"`
	Constraints []string    `json:"constraints,omitempty"`
	NeededBy    string      `json:"needed_by,omitempty"`
	Available   []string    `json:"available,omitempty"`
	Message     string      `json:"message"`
}

// Unsatisfiable explains why no solution exists.
type Unsatisfiable struct {
	problems []Problem
}

func (*Unsatisfiable) outcome() {}

// Problems returns the structured problem list, annotated with the versions
// db offers for each package.
func (u *Unsatisfiable) Problems(db Database) []Problem {
	out := make([]Problem, len(u.problems))
	for i, p := range u.problems {
		out[i] = p
		if db == nil {
			continue
		}
		seen := make(map[string]bool)
		var available []string
		for _, rec := range db.Candidates(p.Package) {
			if !seen[rec.Version] {
				seen[rec.Version] = true
				available = append(available, rec.Version)
			}
		}
		out[i].Available = available
	}
	return out
}

// Palette styles the explanation text.
type Palette struct {
	Unavailable lipgloss.Style
	Available   lipgloss.Style
}

// PlainPalette renders without styling.
func PlainPalette() Palette {
	return Palette{Unavailable: lipgloss.NewStyle(), Available: lipgloss.NewStyle()}
}

// ExplainProblems renders a human readable tree of the problems.
func (u *Unsatisfiable) ExplainProblems(db Database, p Palette) string {
	problems := u.Problems(db)
	var sb strings.Builder
	sb.WriteString("Could not solve for environment specs\n")
	sb.WriteString("The following packages are incompatible\n")
	for i, prob := range problems {
		branch := "├─ "
		if i == len(problems)-1 {
			branch = "└─ "
		}
		sb.WriteString(branch)
		sb.WriteString(explainOne(prob, p))
		sb.WriteString("\n")
	}
	return sb.String()
}

func explainOne(prob Problem, p Palette) string {
	constraint := prob.Package
	if len(prob.Constraints) > 0 {
		constraint = strings.Join(prob.Constraints, ", ")
	}
	switch prob.Type {
	case ProblemNothingProvides:
		msg := fmt.Sprintf("%s does not exist (perhaps a typo or a missing channel)",
			p.Unavailable.Render(constraint))
		if prob.NeededBy != "" {
			msg = fmt.Sprintf("%s, required by %s", msg, prob.NeededBy)
		}
		return msg
	case ProblemConflict:
		msg := fmt.Sprintf("%s is requested", p.Unavailable.Render(constraint))
		if len(prob.Available) > 0 {
			msg += fmt.Sprintf(", but only %s can be installed",
				p.Available.Render(strings.Join(prob.Available, ", ")))
		} else {
			msg += ", but no compatible build can be installed"
		}
		if prob.NeededBy != "" {
			msg += fmt.Sprintf(" (required by %s)", prob.NeededBy)
		}
		return msg
	default:
		return prob.Message
	}
}
