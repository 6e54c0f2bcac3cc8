package transaction

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/SandrineP/mamba/internal/specs"
)

// ActionKind is how one package name is affected by a transaction.
type ActionKind int

const (
	ActionInstall ActionKind = iota
	ActionRemove
	ActionUpgrade
	ActionDowngrade
	ActionChange
	ActionReinstall
)

func (k ActionKind) String() string {
	switch k {
	case ActionInstall:
		return "Install"
	case ActionRemove:
		return "Remove"
	case ActionUpgrade:
		return "Upgrade"
	case ActionDowngrade:
		return "Downgrade"
	case ActionChange:
		return "Change"
	case ActionReinstall:
		return "Reinstall"
	default:
		return "Unknown"
	}
}

func (k ActionKind) symbol() string {
	switch k {
	case ActionInstall:
		return "+"
	case ActionRemove:
		return "-"
	case ActionReinstall:
		return "o"
	default:
		return "~"
	}
}

// Action pairs the old and new record of one package name. From is nil for
// installs and To is nil for removals.
type Action struct {
	Kind ActionKind
	From *specs.PackageRecord
	To   *specs.PackageRecord
}

// Name returns the package name the action applies to.
func (a Action) Name() string {
	if a.To != nil {
		return a.To.Name
	}
	return a.From.Name
}

// Actions classifies the transaction per package name, sorted by name.
func (t *Transaction) Actions() []Action {
	unlinked := make(map[string]int, len(t.Unlink))
	for i, rec := range t.Unlink {
		unlinked[rec.Name] = i
	}
	paired := make(map[string]bool)

	var actions []Action
	for i := range t.Link {
		to := &t.Link[i]
		j, ok := unlinked[to.Name]
		if !ok {
			actions = append(actions, Action{Kind: ActionInstall, To: to})
			continue
		}
		paired[to.Name] = true
		from := &t.Unlink[j]
		actions = append(actions, Action{Kind: changeKind(*from, *to), From: from, To: to})
	}
	for i := range t.Unlink {
		if !paired[t.Unlink[i].Name] {
			actions = append(actions, Action{Kind: ActionRemove, From: &t.Unlink[i]})
		}
	}

	sortActions(actions)
	return actions
}

func changeKind(from, to specs.PackageRecord) ActionKind {
	if from.SameBuild(to) {
		return ActionReinstall
	}
	switch c := to.ParsedVersion().Compare(from.ParsedVersion()); {
	case c > 0:
		return ActionUpgrade
	case c < 0:
		return ActionDowngrade
	default:
		return ActionChange
	}
}

func sortActions(actions []Action) {
	slices.SortStableFunc(actions, func(a, b Action) int { return cmp.Compare(a.Name(), b.Name()) })
}

// DownloadSize sums the known archive sizes of the linked packages.
func (t *Transaction) DownloadSize() int64 {
	var total int64
	for _, rec := range t.Link {
		total += rec.Size
	}
	return total
}

// Print writes the transaction table and summary.
func (t *Transaction) Print(w io.Writer) {
	fmt.Fprintf(w, "\nTransaction\n\n  Prefix: %s\n\n", t.Prefix)

	if len(t.UpdateSpecs) > 0 {
		fmt.Fprintf(w, "  Updating specs:\n\n")
		for _, s := range t.UpdateSpecs {
			fmt.Fprintf(w, "   - %s\n", s)
		}
		fmt.Fprintln(w)
	}
	if len(t.RemoveSpecs) > 0 {
		fmt.Fprintf(w, "  Removing specs:\n\n")
		for _, s := range t.RemoveSpecs {
			fmt.Fprintf(w, "   - %s\n", s)
		}
		fmt.Fprintln(w)
	}

	actions := t.Actions()
	if len(actions) == 0 {
		return
	}

	fmt.Fprintf(w, "  %-3s%-24s %-28s %-20s %s\n", "", "Package", "Version", "Channel", "Size")
	fmt.Fprintf(w, "  %s\n", strings.Repeat("─", 84))

	counts := make(map[ActionKind]int)
	for _, a := range actions {
		counts[a.Kind]++
		version, channel, size := describe(a)
		fmt.Fprintf(w, "  %-3s%-24s %-28s %-20s %s\n",
			a.Kind.symbol(), truncate(a.Name(), 24), version, truncate(channel, 20), size)
	}

	fmt.Fprintf(w, "\n  Summary:\n\n")
	for _, kind := range []ActionKind{ActionInstall, ActionChange, ActionReinstall, ActionUpgrade, ActionDowngrade, ActionRemove} {
		if n := counts[kind]; n > 0 {
			fmt.Fprintf(w, "  %s: %d %s\n", kind, n, plural(n))
		}
	}
	if size := t.DownloadSize(); size > 0 {
		fmt.Fprintf(w, "\n  Total download: %s\n", humanize.Bytes(uint64(size)))
	}
	fmt.Fprintln(w)
}

func describe(a Action) (version, channel, size string) {
	switch {
	case a.From == nil:
		return a.To.Version + " " + a.To.Build, specs.ChannelName(a.To.Channel), sizeOf(*a.To)
	case a.To == nil:
		return a.From.Version + " " + a.From.Build, specs.ChannelName(a.From.Channel), ""
	case a.From.Version == a.To.Version:
		return a.From.Build + " -> " + a.To.Build, specs.ChannelName(a.To.Channel), sizeOf(*a.To)
	default:
		return a.From.Version + " -> " + a.To.Version, specs.ChannelName(a.To.Channel), sizeOf(*a.To)
	}
}

func sizeOf(rec specs.PackageRecord) string {
	if rec.Size <= 0 {
		return ""
	}
	return humanize.Bytes(uint64(rec.Size))
}

func plural(n int) string {
	if n == 1 {
		return "package"
	}
	return "packages"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

type jsonActions struct {
	Fetch  []specs.PackageRecord `json:"FETCH"`
	Link   []specs.PackageRecord `json:"LINK"`
	Unlink []specs.PackageRecord `json:"UNLINK"`
	Prefix string                `json:"PREFIX"`
}

// LogJSON writes {"actions": {...}} describing the transaction. cached
// reports whether an archive is already in a package cache; a nil cached
// means every linked package must be fetched.
func (t *Transaction) LogJSON(w io.Writer, cached func(specs.PackageRecord) bool) error {
	out := jsonActions{
		Fetch:  []specs.PackageRecord{},
		Link:   t.Link,
		Unlink: t.Unlink,
		Prefix: t.Prefix,
	}
	if out.Link == nil {
		out.Link = []specs.PackageRecord{}
	}
	if out.Unlink == nil {
		out.Unlink = []specs.PackageRecord{}
	}
	for _, rec := range t.Link {
		if cached == nil || !cached(rec) {
			out.Fetch = append(out.Fetch, rec)
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]jsonActions{"actions": out}); err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	return nil
}
