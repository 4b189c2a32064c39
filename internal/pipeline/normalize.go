package pipeline

import (
	"regexp"
	"strings"

	"dossiers/internal"
	"dossiers/internal/util"
)

const (
	PreenseigneClause = "« Les préenseignes sont soumises aux dispositions qui régissent la publicité » (article L.581-19)"

	RoleDisplayer  = "Afficheur ou bénéficiaire"
	RoleAdvertiser = "Annonceur"
	RoleNotVisible = "non visible"

	partySeparator = " - "
)

var preenseigneRe = regexp.MustCompile(`(.*)` + regexp.QuoteMeta(PreenseigneClause))

// InfractionField names the column that supplied the infraction text.
type InfractionField string

const (
	FromNone      InfractionField = ""
	FromPublicite InfractionField = "publicite"
	FromEnseigne  InfractionField = "enseigne"
	FromRLPI      InfractionField = "rlpi"
)

type DepartmentNames interface {
	Name(code string) string
}

// Sheet holds the render-ready values of one record.
type Sheet struct {
	Identifier     string
	City           string
	PostalCode     string
	Department     string
	DepartmentName string
	StreetNumber   string
	Street         string
	Localisation   string
	Latitude       string
	Longitude      string
	Category       string
	Preenseigne    string
	Infraction     string
	Source         InfractionField
	RoleLabel      string
	Displayer      string
	Advertiser     string
	Surface        string
	Date           string
}

// Normalize derives the sheet values of rec. rec itself is not modified.
func Normalize(rec internal.InfractionRecord, departments DepartmentNames, date string) Sheet {
	cp := util.ZeroPad(rec.PostalCode, 5)
	dept := util.Prefix(cp, 2)

	s := Sheet{
		Identifier:     rec.Name,
		City:           rec.City,
		PostalCode:     cp,
		Department:     dept,
		DepartmentName: departments.Name(dept),
		Street:         rec.Street,
		Latitude:       util.FormatCoordinate(rec.Latitude),
		Longitude:      util.FormatCoordinate(rec.Longitude),
		Date:           date,
	}

	s.StreetNumber = StreetNumber(rec.StreetNumber, rec.Street, rec.Latitude)
	if s.StreetNumber != "" {
		s.Localisation = strings.TrimSpace(s.StreetNumber + " " + rec.Street)
	} else {
		s.Localisation = rec.Street
	}

	s.Category, s.Preenseigne = SplitCategory(rec.Category)

	party := rec.Displayer
	switch {
	case strings.TrimSpace(rec.Publicite) != "":
		s.Infraction, s.Source, s.RoleLabel = rec.Publicite, FromPublicite, RoleDisplayer
	case strings.TrimSpace(rec.Enseigne) != "":
		s.Infraction, s.Source, s.RoleLabel = rec.Enseigne, FromEnseigne, RoleAdvertiser
		party = rec.Advertiser
	case strings.TrimSpace(rec.RLPI) != "":
		s.Infraction, s.Source = rec.RLPI, FromRLPI
	}
	if isSet(rec.NotVisible) {
		s.RoleLabel = RoleNotVisible
	}
	s.Displayer, s.Advertiser = SplitParty(party)

	if v := strings.TrimSpace(rec.Surface); v != "" {
		s.Surface = "surface estimée de " + v + " m²"
	}
	return s
}

// StreetNumber returns the trimmed number, or "" when it is a placeholder,
// a copy of the latitude's integer part, or belongs to a highway.
func StreetNumber(raw, street, latitude string) string {
	n := strings.TrimSpace(raw)
	switch n {
	case "", "-", "nan":
		return ""
	}
	if lat := util.IntegerPart(latitude); lat != "" && n == lat {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(street)), "autoroute") {
		return ""
	}
	return n
}

// SplitCategory separates the pre-sign legal clause from the category label.
func SplitCategory(category string) (clean, clause string) {
	m := preenseigneRe.FindStringSubmatch(category)
	if m == nil {
		return category, ""
	}
	return strings.TrimSpace(m[1]), PreenseigneClause
}

// SplitParty splits "afficheur - annonceur" into its two trimmed segments.
func SplitParty(party string) (displayer, advertiser string) {
	parts := strings.Split(party, partySeparator)
	displayer = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		advertiser = strings.TrimSpace(parts[1])
	}
	return displayer, advertiser
}

func isSet(flag string) bool {
	switch strings.ToLower(strings.TrimSpace(flag)) {
	case "on", "true", "1", "oui", "yes":
		return true
	}
	return false
}

// Values returns the template context of the sheet, without the image.
func (s Sheet) Values() map[string]any {
	return map[string]any{
		"Latitude":           s.Latitude,
		"Longitude":          s.Longitude,
		"gps":                s.Latitude + ", " + s.Longitude,
		"numero_de_rue":      s.StreetNumber,
		"rue":                s.Street,
		"localisation":       s.Localisation,
		"numero_de_fiche":    s.Identifier,
		"code_fiche":         s.Identifier,
		"nom_commune":        s.City,
		"code_postal":        s.PostalCode,
		"department_name":    s.DepartmentName,
		"numero_departement": s.Department,
		"date_today":         s.Date,
		"afficheur":          s.Displayer,
		"annonceur":          s.Advertiser,
		"type_dispositif":    s.Category,
		"type_infraction":    "",
		"préenseignes":       s.Preenseigne,
		"annonceurafficheur": s.RoleLabel,
		"surface":            s.Surface,
	}
}
