package internal

import "time"

// Column names of the infraction dataset.
const (
	ColPostalCode   = "Code postal"
	ColCity         = "Ville"
	ColStreet       = "Rue"
	ColStreetNumber = "Numéro"
	ColLatitude     = "Latitude"
	ColLongitude    = "Longitude"
	ColCategories   = "Catégories (libellés)"
	ColImages       = "Images"
	ColName         = "Nom"
	ColDisplayer    = "afficheur"
	ColAdvertiser   = "annonceur"
	ColPublicite    = "infraction_publicite"
	ColEnseigne     = "infraction_enseigne"
	ColRLPI         = "infraction_rlpi"
	ColNotVisible   = "afficheur_non_visible"
	ColSurface      = "surface"
)

// InfractionRecord is one input row. Values are raw text; absent cells are "".
type InfractionRecord struct {
	Index        int
	Source       string
	City         string
	PostalCode   string
	StreetNumber string
	Street       string
	Latitude     string
	Longitude    string
	Category     string
	Publicite    string
	Enseigne     string
	RLPI         string
	Displayer    string
	Advertiser   string
	NotVisible   string
	ImageURL     string
	Surface      string
	Name         string
}

// MunicipalityKey identifies a commune: department code plus city name.
type MunicipalityKey struct {
	Department string
	City       string
}

// MunicipalityGroup is every record of one commune, in input order.
type MunicipalityGroup struct {
	Key        MunicipalityKey
	PostalCode string
	Records    []InfractionRecord
}

type Gender string

const (
	GenderMale    Gender = "M"
	GenderFemale  Gender = "F"
	GenderUnknown Gender = "?"
)

// Mayor is an elected official as found in the RNE reference table.
type Mayor struct {
	FirstName string
	LastName  string
	Gender    Gender
}

// Commune is one candidate returned by the place-lookup service.
type Commune struct {
	Name        string   `json:"nom"`
	Code        string   `json:"code"`
	PostalCodes []string `json:"codesPostaux"`
	Population  int      `json:"population"`
}

// CachedCommune is a resolved commune kept between runs.
type CachedCommune struct {
	City          string
	PostalCode    string
	INSEE         string
	Name          string
	Population    int
	TownHallLines string
	ResolvedAt    time.Time
}

// Addressee is everything the letter needs about its recipient.
type Addressee struct {
	City          string
	PostalCode    string
	INSEE         string
	TownHallLines string
	Mayor         Mayor
}

type SheetStatus string

const (
	SheetGenerated SheetStatus = "generated"
	SheetSkipped   SheetStatus = "skipped"
)

// GeneratedSheet is one per-row document written under a case folder.
type GeneratedSheet struct {
	RowIndex   int
	Identifier string
	Folder     string
	Path       string
	Status     SheetStatus
	Error      string
}

type FailureScope string

const (
	ScopeRow          FailureScope = "row"
	ScopeMunicipality FailureScope = "municipality"
	ScopeMerge        FailureScope = "merge"
)

type Failure struct {
	Scope  FailureScope
	Key    string
	Reason string
}

// GeneratedLetter is the output of one municipality's letter generation.
type GeneratedLetter struct {
	Key            MunicipalityKey
	LetterPath     string
	RecipientsPath string
	SheetCount     int
}

// MergedDossier is one combined document per infractions folder.
type MergedDossier struct {
	Folder  string
	Path    string
	Sources []string
}

// ReportRow is one line of the XLSX run report.
type ReportRow struct {
	Kind       string
	Key        string
	Identifier string
	Path       string
	Status     string
	Detail     string
}
