package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"dossiers/internal"
	"dossiers/internal/util"
)

// Loader turns dataset files into InfractionRecords.
type Loader struct {
	log *slog.Logger
}

func NewLoader(log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{log: log}
}

// Files lists the dataset files under path: the file itself, or every .csv/.xlsx of a directory sorted by name.
func Files(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), "~$") {
			continue
		}
		if IsDatasetFile(e.Name()) {
			out = append(out, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func IsDatasetFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// Load reads every dataset file under path and concatenates their rows.
// Row indexes are global across files.
func (l *Loader) Load(path string) ([]internal.InfractionRecord, error) {
	files, err := Files(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .csv or .xlsx dataset under %s", path)
	}
	l.log.Info(fmt.Sprintf("%d fichiers de données détectés", len(files)))

	all := []internal.InfractionRecord{}
	for _, file := range files {
		l.log.Info(" - " + filepath.Base(file))
		rows, err := l.readTable(file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(file), err)
		}
		for _, row := range rows {
			all = append(all, NewRecord(len(all), filepath.Base(file), row))
		}
	}
	l.log.Info(fmt.Sprintf("Nombre total de lignes chargées : %d", len(all)))
	return all, nil
}

func (l *Loader) readTable(path string) ([]map[string]string, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return parseXLSX(blob)
	}
	return l.parseCSV(blob)
}

func (l *Loader) parseCSV(blob []byte) ([]map[string]string, error) {
	blob = bytes.TrimPrefix(blob, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(blob))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	header = normalizeHeader(header)

	out := []map[string]string{}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			l.log.Warn("ligne CSV ignorée", "error", err)
			continue
		}
		if len(row) > len(header) {
			line, _ := reader.FieldPos(0)
			l.log.Warn("ligne CSV ignorée", "line", line, "error", fmt.Sprintf("expected %d fields, saw %d", len(header), len(row)))
			continue
		}
		out = append(out, zipRow(header, row))
	}
	return out, nil
}

func parseXLSX(content []byte) ([]map[string]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := []map[string]string{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) < 2 {
			continue
		}
		header := normalizeHeader(rows[0])
		for _, row := range rows[1:] {
			if isBlank(row) {
				continue
			}
			out = append(out, zipRow(header, row))
		}
	}
	return out, nil
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = util.NormalizeSpaces(h)
	}
	return out
}

func zipRow(header, row []string) map[string]string {
	m := make(map[string]string, len(header))
	for i, h := range header {
		if h == "" {
			continue
		}
		if i < len(row) {
			m[h] = row[i]
		} else if _, ok := m[h]; !ok {
			m[h] = ""
		}
	}
	return m
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// NewRecord builds an immutable record from a header-keyed row. Missing columns read as "".
func NewRecord(index int, source string, row map[string]string) internal.InfractionRecord {
	get := func(col string) string { return row[col] }
	image, _, _ := strings.Cut(get(internal.ColImages), "|")
	return internal.InfractionRecord{
		Index:        index,
		Source:       source,
		City:         get(internal.ColCity),
		PostalCode:   get(internal.ColPostalCode),
		StreetNumber: get(internal.ColStreetNumber),
		Street:       get(internal.ColStreet),
		Latitude:     get(internal.ColLatitude),
		Longitude:    get(internal.ColLongitude),
		Category:     get(internal.ColCategories),
		Publicite:    get(internal.ColPublicite),
		Enseigne:     get(internal.ColEnseigne),
		RLPI:         get(internal.ColRLPI),
		Displayer:    get(internal.ColDisplayer),
		Advertiser:   get(internal.ColAdvertiser),
		NotVisible:   get(internal.ColNotVisible),
		ImageURL:     strings.TrimSpace(image),
		Surface:      get(internal.ColSurface),
		Name:         get(internal.ColName),
	}
}
