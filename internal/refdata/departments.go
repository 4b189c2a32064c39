package refdata

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"dossiers/internal/util"
)

const UnknownDepartment = "Département Inconnu"

//go:embed departements-region.csv
var embeddedDepartments []byte

// Departments maps 2-character department codes to department names.
type Departments map[string]string

func (d Departments) Name(code string) string {
	if name, ok := d[code]; ok {
		return name
	}
	return UnknownDepartment
}

// LoadDepartments reads a num_dep,dep_name table. An empty path selects the embedded table.
func LoadDepartments(path string) (Departments, error) {
	if strings.TrimSpace(path) == "" {
		return parseDepartments(bytes.NewReader(embeddedDepartments))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseDepartments(f)
}

func parseDepartments(r io.Reader) (Departments, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("departments header: %w", err)
	}
	codeIdx, nameIdx := indexOf(header, "num_dep"), indexOf(header, "dep_name")
	if codeIdx < 0 || nameIdx < 0 {
		return nil, fmt.Errorf("departments table needs num_dep and dep_name columns, got %v", header)
	}

	out := Departments{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if codeIdx >= len(row) || nameIdx >= len(row) {
			continue
		}
		code := util.ZeroPad(strings.TrimSpace(row[codeIdx]), 2)
		out[code] = strings.TrimSpace(row[nameIdx])
	}
	return out, nil
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		h = strings.TrimPrefix(h, "\uFEFF")
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}
