// Package labels loads the ordered class names that index the model output.
package labels

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Format selects how a label file is encoded on disk.
type Format string

const (
	// FormatText is one label per line.
	FormatText Format = "text"
	// FormatJSON is a JSON array of strings.
	FormatJSON Format = "json"
)

var (
	ErrEmpty     = errors.New("label set is empty")
	ErrDuplicate = errors.New("duplicate label")
	ErrBlank     = errors.New("blank label")
)

// ParseFormat converts a config value into a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown label format %q (expected text or json)", s)
	}
}

// Catalog is an immutable, ordered set of unique class names. Index i
// corresponds to model output channel i.
type Catalog struct {
	labels []string
	index  map[string]int
}

// New validates labels and builds a Catalog from them.
func New(labels []string) (*Catalog, error) {
	if len(labels) == 0 {
		return nil, ErrEmpty
	}

	c := &Catalog{
		labels: make([]string, len(labels)),
		index:  make(map[string]int, len(labels)),
	}
	for i, l := range labels {
		if strings.TrimSpace(l) == "" {
			return nil, fmt.Errorf("label %d: %w", i, ErrBlank)
		}
		if prev, ok := c.index[l]; ok {
			return nil, fmt.Errorf("label %q at %d and %d: %w", l, prev, i, ErrDuplicate)
		}
		c.labels[i] = l
		c.index[l] = i
	}
	return c, nil
}

// Load reads a label file in the given format.
func Load(path string, format Format) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label file: %w", err)
	}
	defer f.Close()

	var c *Catalog
	switch format {
	case FormatText:
		c, err = LoadText(f)
	case FormatJSON:
		c, err = LoadJSON(f)
	default:
		return nil, fmt.Errorf("unknown label format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load labels from %s: %w", path, err)
	}
	return c, nil
}

// LoadText reads newline-delimited labels. Surrounding whitespace is
// trimmed and blank lines are skipped.
func LoadText(r io.Reader) (*Catalog, error) {
	var labels []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return New(labels)
}

// LoadJSON reads a JSON array of label strings.
func LoadJSON(r io.Reader) (*Catalog, error) {
	var labels []string
	if err := json.NewDecoder(r).Decode(&labels); err != nil {
		return nil, fmt.Errorf("invalid label JSON: %w", err)
	}
	return New(labels)
}

// Len returns the number of classes.
func (c *Catalog) Len() int {
	return len(c.labels)
}

// At returns the label for output channel i.
func (c *Catalog) At(i int) (string, error) {
	if i < 0 || i >= len(c.labels) {
		return "", fmt.Errorf("label index %d out of range [0,%d)", i, len(c.labels))
	}
	return c.labels[i], nil
}

// Index returns the channel of a label.
func (c *Catalog) Index(label string) (int, bool) {
	i, ok := c.index[label]
	return i, ok
}

// Labels returns a copy of the ordered labels.
func (c *Catalog) Labels() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}
