// Package labels - Index-addressed label tables for model outputs.
package labels

import (
	"bufio"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Unknown is returned for class indices that have no label.
const Unknown = "unknown"

// ErrSourceUnavailable is returned when a label source cannot be opened.
var ErrSourceUnavailable = errors.New("label source unavailable")

// Table is an ordered list of labels addressed by class index. It is read-only after
// it has been loaded and safe for concurrent use.
type Table struct {
	names     []string
	nameToIdx map[string]int
}

// New builds a table from names in index order.
func New(names ...string) *Table {
	t := &Table{
		names:     append([]string(nil), names...),
		nameToIdx: make(map[string]int, len(names)),
	}
	for i, name := range t.names {
		if _, ok := t.nameToIdx[name]; !ok {
			t.nameToIdx[name] = i
		}
	}
	return t
}

// Load reads a label file with one label per line.
//
// Arguments:
//   - path: The path of the label file.
//
// Returns:
//   - *Table: The loaded table.
//   - error: ErrSourceUnavailable when the file cannot be opened, or the read error.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrSourceUnavailable, "%s: %v", path, err)
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading labels from %s", path)
	}
	return t, nil
}

// LoadFS reads a label file from fsys, such as an embedded model bundle.
func LoadFS(fsys fs.FS, name string) (*Table, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, errors.Wrapf(ErrSourceUnavailable, "%s: %v", name, err)
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading labels from %s", name)
	}
	return t, nil
}

// Read parses one label per line. The index of a label is its 0-based line number;
// blank lines keep their slot.
func Read(r io.Reader) (*Table, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		names = append(names, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return New(names...), nil
}

// Len returns the number of labels.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}

// Lookup returns the label at index i, or Unknown when i is out of range.
func (t *Table) Lookup(i int) string {
	if t == nil || i < 0 || i >= len(t.names) {
		return Unknown
	}
	return t.names[i]
}

// Index returns the first index of name.
func (t *Table) Index(name string) (int, bool) {
	if t == nil {
		return 0, false
	}
	i, ok := t.nameToIdx[name]
	return i, ok
}

// Names returns a copy of the labels in index order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.names...)
}
