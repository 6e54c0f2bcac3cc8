// Package history reads and appends the conda-meta/history revision log of
// an environment and reconciles the package differences between revisions.
package history

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/SandrineP/mamba/internal/errs"
)

// DateFormat is the layout of revision header dates.
const DateFormat = "2006-01-02 15:04:05"

// UserRequest is one revision of the history log.
type UserRequest struct {
	Revision     int    `json:"revision"`
	Date         string `json:"date"`
	Cmd          string `json:"cmd,omitempty"`
	CondaVersion string `json:"conda_version,omitempty"`

	// LinkDists and UnlinkDists hold "channel/subdir::name-version-build"
	// identities.
	LinkDists   []string `json:"link_dists"`
	UnlinkDists []string `json:"unlink_dists"`

	UpdateSpecs   []string `json:"update_specs,omitempty"`
	RemoveSpecs   []string `json:"remove_specs,omitempty"`
	NeuteredSpecs []string `json:"neutered_specs,omitempty"`
}

// HasChanges reports whether the revision linked or unlinked anything.
func (r UserRequest) HasChanges() bool {
	return len(r.LinkDists) > 0 || len(r.UnlinkDists) > 0
}

var (
	headerRe  = regexp.MustCompile(`^==>\s*(.*?)\s*<==$`)
	commentRe = regexp.MustCompile(`^#\s*([\w ]+?)\s*:\s*(.*)$`)
	quotedRe  = regexp.MustCompile(`["']([^"']*)["']`)
)

// Parse reads a history log. Revisions are numbered from 0 in file order.
// Lines before the first header are ignored.
func Parse(r io.Reader) ([]UserRequest, error) {
	var requests []UserRequest
	var current *UserRequest

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if m := headerRe.FindStringSubmatch(line); m != nil {
			requests = append(requests, UserRequest{Revision: len(requests), Date: m[1]})
			current = &requests[len(requests)-1]
			continue
		}
		if current == nil {
			continue
		}

		switch line[0] {
		case '#':
			parseComment(line, current)
		case '+':
			current.LinkDists = append(current.LinkDists, line[1:])
		case '-':
			current.UnlinkDists = append(current.UnlinkDists, line[1:])
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.CodeIO, err, "failed to read history")
	}
	return requests, nil
}

func parseComment(line string, req *UserRequest) {
	m := commentRe.FindStringSubmatch(line)
	if m == nil {
		return
	}
	key, value := strings.ToLower(m[1]), m[2]

	switch key {
	case "cmd":
		req.Cmd = value
	case "conda version":
		req.CondaVersion = value
	case "update specs", "install specs", "create specs":
		req.UpdateSpecs = append(req.UpdateSpecs, parseSpecList(value)...)
	case "remove specs", "uninstall specs":
		req.RemoveSpecs = append(req.RemoveSpecs, parseSpecList(value)...)
	case "neutered specs":
		req.NeuteredSpecs = append(req.NeuteredSpecs, parseSpecList(value)...)
	}
}

// parseSpecList reads `["a", "b"]` as well as the `['a', 'b']` form older
// tools wrote.
func parseSpecList(s string) []string {
	var out []string
	for _, m := range quotedRe.FindAllStringSubmatch(s, -1) {
		if m[1] != "" {
			out = append(out, m[1])
		}
	}
	return out
}

// Format renders req as a history entry. The revision number is implied by
// position and not written.
func Format(req UserRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "==> %s <==\n", req.Date)
	if req.Cmd != "" {
		fmt.Fprintf(&sb, "# cmd: %s\n", req.Cmd)
	}
	if req.CondaVersion != "" {
		fmt.Fprintf(&sb, "# conda version: %s\n", req.CondaVersion)
	}
	for _, d := range req.UnlinkDists {
		fmt.Fprintf(&sb, "-%s\n", d)
	}
	for _, d := range req.LinkDists {
		fmt.Fprintf(&sb, "+%s\n", d)
	}
	writeSpecs(&sb, "update", req.UpdateSpecs)
	writeSpecs(&sb, "remove", req.RemoveSpecs)
	writeSpecs(&sb, "neutered", req.NeuteredSpecs)
	return sb.String()
}

func writeSpecs(sb *strings.Builder, action string, list []string) {
	if len(list) == 0 {
		return
	}
	quoted := make([]string, len(list))
	for i, s := range list {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	fmt.Fprintf(sb, "# %s specs: [%s]\n", action, strings.Join(quoted, ", "))
}

// File is the history log of one prefix.
type File struct {
	path string
}

// Open returns the history of the environment at prefix. The file need not
// exist yet.
func Open(prefix string) *File {
	return &File{path: filepath.Join(prefix, "conda-meta", "history")}
}

// Path returns the log location.
func (f *File) Path() string { return f.path }

// UserRequests parses every revision. A missing log has no revisions.
func (f *File) UserRequests() ([]UserRequest, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.CodeIO, err, "failed to open %s", f.path)
	}
	defer fh.Close()

	return Parse(fh)
}

// Append writes req as a new revision. An empty Date is filled with the
// current time.
func (f *File) Append(req UserRequest) error {
	if req.Date == "" {
		req.Date = time.Now().Format(DateFormat)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to create %s", filepath.Dir(f.path))
	}

	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to open %s", f.path)
	}
	if err := writeRevision(fh, req); err != nil {
		return errs.Wrap(errs.CodeIO, err, "failed to append to %s", f.path)
	}
	return nil
}

// writeRevision writes req to w and closes it. A failed close is reported
// since buffered data may not have reached disk.
func writeRevision(w io.WriteCloser, req UserRequest) error {
	if _, err := io.WriteString(w, Format(req)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
