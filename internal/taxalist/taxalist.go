// Package taxalist parses the taxa input list: a comma- or tab-separated
// table naming which taxa a pipeline build should process.
package taxalist

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/artobs/taxongrid/internal/apperr"
)

// Taxon is one parsed row: a required numeric id, plus optional names
// carried through to TaxonDim.
type Taxon struct {
	TaxonID        int
	ScientificName string
	SwedishName    string
}

const (
	colTaxonID        = "taxon_id"
	colScientificName = "scientific_name"
	colSwedishName    = "swedish_name"
)

// Parse reads a taxa list from r. The header row is expected to name a
// required taxon_id column plus optional scientific_name/swedish_name
// columns, in any order; a first row that names none of those columns is
// treated as the legacy format (no header, taxon id read from the first
// column of every line).
func Parse(r io.Reader) ([]Taxon, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "reading taxa list", err)
	}
	if len(lines) == 0 {
		return nil, apperr.New(apperr.MissingInput, "taxa list is empty")
	}

	sep := detectSeparator(lines[0])
	header := splitRow(lines[0], sep)
	idx, legacy := resolveColumns(header)

	start := 1
	if legacy {
		start = 0
	}

	taxa := make([]Taxon, 0, len(lines)-start)
	for i := start; i < len(lines); i++ {
		fields := splitRow(lines[i], sep)
		t, err := rowToTaxon(fields, idx, legacy)
		if err != nil {
			return nil, apperr.Wrap(apperr.BadRequest, fmt.Sprintf("taxa list line %d", i+1), err)
		}
		taxa = append(taxa, t)
	}
	return taxa, nil
}

type columnIndex struct {
	taxonID        int
	scientificName int
	swedishName    int
}

// resolveColumns inspects the header row for named columns. When none of
// the recognized column names are present, the file is assumed to be the
// legacy single-column format and every line (including the first) is
// data.
func resolveColumns(header []string) (columnIndex, bool) {
	idx := columnIndex{taxonID: -1, scientificName: -1, swedishName: -1}
	found := false
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case colTaxonID:
			idx.taxonID = i
			found = true
		case colScientificName:
			idx.scientificName = i
			found = true
		case colSwedishName:
			idx.swedishName = i
			found = true
		}
	}
	if !found {
		return columnIndex{taxonID: 0, scientificName: -1, swedishName: -1}, true
	}
	if idx.taxonID < 0 {
		idx.taxonID = 0
	}
	return idx, false
}

func rowToTaxon(fields []string, idx columnIndex, legacy bool) (Taxon, error) {
	if idx.taxonID >= len(fields) {
		return Taxon{}, fmt.Errorf("missing taxon_id field")
	}
	raw := strings.TrimSpace(fields[idx.taxonID])
	id, err := strconv.Atoi(raw)
	if err != nil {
		return Taxon{}, fmt.Errorf("taxon_id %q is not an integer", raw)
	}

	t := Taxon{TaxonID: id}
	if legacy {
		return t, nil
	}
	if idx.scientificName >= 0 && idx.scientificName < len(fields) {
		t.ScientificName = strings.TrimSpace(fields[idx.scientificName])
	}
	if idx.swedishName >= 0 && idx.swedishName < len(fields) {
		t.SwedishName = strings.TrimSpace(fields[idx.swedishName])
	}
	return t, nil
}

// detectSeparator picks tab when the line contains one, comma otherwise.
func detectSeparator(line string) rune {
	if strings.ContainsRune(line, '\t') {
		return '\t'
	}
	return ','
}

func splitRow(line string, sep rune) []string {
	parts := strings.Split(line, string(sep))
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
