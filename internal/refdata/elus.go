package refdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"dossiers/internal"
	"dossiers/internal/util"
)

const (
	colRNECode      = "Code de la commune"
	colRNEFirstName = "Prénom de l'élu"
	colRNELastName  = "Nom de l'élu"
	colRNEGender    = "Code sexe"
)

// Mayors is the elected-official table keyed by INSEE code.
type Mayors map[string]internal.Mayor

// Lookup returns the mayor of a commune, if the table lists one.
func (m Mayors) Lookup(insee string) (internal.Mayor, bool) {
	mayor, ok := m[insee]
	return mayor, ok
}

func LoadMayors(path string) (Mayors, error) {
	f, err := os.Open(path)
	if err != nil {
		return Mayors{}, fmt.Errorf("RNE table: %w", err)
	}
	defer f.Close()
	return ParseMayors(f)
}

// ParseMayors reads the semicolon-delimited RNE export. The first row of each code wins.
func ParseMayors(r io.Reader) (Mayors, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return Mayors{}, fmt.Errorf("RNE header: %w", err)
	}
	codeIdx := indexOf(header, colRNECode)
	firstIdx := indexOf(header, colRNEFirstName)
	lastIdx := indexOf(header, colRNELastName)
	genderIdx := indexOf(header, colRNEGender)
	if codeIdx < 0 {
		return Mayors{}, fmt.Errorf("RNE table has no %q column", colRNECode)
	}

	out := Mayors{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}
		code := cell(row, codeIdx)
		if code == "" {
			continue
		}
		if _, seen := out[code]; seen {
			continue
		}
		out[code] = internal.Mayor{
			FirstName: util.TitleCase(cell(row, firstIdx)),
			LastName:  strings.ToUpper(cell(row, lastIdx)),
			Gender:    ParseGender(cell(row, genderIdx)),
		}
	}
	return out, nil
}

// ParseGender maps the RNE sex code; anything but M or F is unknown.
func ParseGender(code string) internal.Gender {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "M":
		return internal.GenderMale
	case "F":
		return internal.GenderFemale
	default:
		return internal.GenderUnknown
	}
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
