// Package export writes stored listings as JSONL, a TSV link mapping or a YAML document.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/models"
	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatTSV   Format = "tsv"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts a format name in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSONL, FormatTSV, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format '%s' (expected jsonl, tsv or yaml)", s)
}

// Metadata is the YAML document written for FormatYAML.
type Metadata struct {
	Source     string           `yaml:"source"`
	ExportedAt time.Time        `yaml:"exported_at"`
	Total      int              `yaml:"total"`
	Listings   []ListingSummary `yaml:"listings"`
}

// ListingSummary is the flattened listing used in YAML exports.
type ListingSummary struct {
	SourceID      string   `yaml:"source_id"`
	Title         string   `yaml:"title"`
	Link          string   `yaml:"link"`
	Price         string   `yaml:"price"`
	Department    string   `yaml:"department"`
	Neighbourhood string   `yaml:"neighbourhood"`
	Address       string   `yaml:"address,omitempty"`
	Phone         string   `yaml:"phone,omitempty"`
	Pictures      int      `yaml:"pictures"`
	Geo           string   `yaml:"geo,omitempty"`
	Warranties    []string `yaml:"warranties,omitempty"`
	StoreMode     string   `yaml:"store_mode"`
}

// Writer encodes the listings of one source.
type Writer struct {
	format Format
	now    func() time.Time
}

// NewWriter creates a Writer for format.
func NewWriter(format Format) *Writer {
	return &Writer{format: format, now: time.Now}
}

// Write encodes listings of alias to w.
func (ew *Writer) Write(w io.Writer, alias string, listings []*models.Listing) error {
	bw := bufio.NewWriter(w)
	var err error
	switch ew.format {
	case FormatJSONL:
		err = writeJSONL(bw, listings)
	case FormatTSV:
		err = writeTSV(bw, listings)
	case FormatYAML:
		err = ew.writeYAML(bw, alias, listings)
	default:
		return fmt.Errorf("unknown export format '%s'", ew.format)
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}

// FileName is the default export file name for alias, dated with the writer clock.
func (ew *Writer) FileName(alias string) string {
	return fmt.Sprintf("%s-%s.%s", utils.SanitizeFilename(alias), ew.now().Format("20060102"), ew.format)
}

// WriteFile writes the export to path through a temporary file and a rename.
func (ew *Writer) WriteFile(path, alias string, listings []*models.Listing) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create export file '%s': %w", tmp, err)
	}
	if err := ew.Write(f, alias, listings); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write export for source '%s': %w", alias, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close export file '%s': %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// writeJSONL writes one listing per line.
func writeJSONL(w io.Writer, listings []*models.Listing) error {
	for _, l := range listings {
		jsonBytes, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("failed to marshal listing %s: %w", l.Key(), err)
		}
		if _, err := w.Write(append(jsonBytes, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// writeTSV writes "source_id<TAB>price<TAB>link" lines.
func writeTSV(w io.Writer, listings []*models.Listing) error {
	for _, l := range listings {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", l.SourceID, l.Price.String(), l.Link); err != nil {
			return err
		}
	}
	return nil
}

func (ew *Writer) writeYAML(w io.Writer, alias string, listings []*models.Listing) error {
	metadata := Metadata{
		Source:     alias,
		ExportedAt: ew.now().UTC(),
		Total:      len(listings),
		Listings:   make([]ListingSummary, 0, len(listings)),
	}
	for _, l := range listings {
		s := ListingSummary{
			SourceID:      l.SourceID,
			Title:         l.Title,
			Link:          l.Link,
			Price:         l.Price.String(),
			Department:    l.Department,
			Neighbourhood: l.Neighbourhood,
			Address:       l.Address,
			Phone:         l.Phone,
			Pictures:      len(l.Pictures),
			Warranties:    l.Warranties,
			StoreMode:     l.StoreMode.String(),
		}
		if l.GeoReference != nil {
			s.Geo = l.GeoReference.String()
		}
		metadata.Listings = append(metadata.Listings, s)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&metadata); err != nil {
		return fmt.Errorf("failed to marshal export metadata to YAML: %w", err)
	}
	return enc.Close()
}
