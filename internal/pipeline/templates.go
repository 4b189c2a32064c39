package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"dossiers/internal/docx"
)

var starterSheetLines = []string{
	"Fiche n° {{ numero_de_fiche }} ({{ code_fiche }}) du {{ date_today }}",
	"Commune : {{ nom_commune }} ({{ code_postal }}), {{ department_name }} ({{ numero_departement }})",
	"Localisation : {{ localisation }} (numéro {{ numero_de_rue }}, voie {{ rue }})",
	"GPS : {{ gps }} (latitude {{ Latitude }}, longitude {{ Longitude }})",
	"Type de dispositif : {{ type_dispositif }} {{ type_infraction }}",
	"{{ préenseignes }}",
	"{{ annonceurafficheur }} : {{ afficheur }} {{ annonceur }}",
	"{{ surface }}",
	"{{ my_image }}",
	"Infraction constatée :",
}

var starterLetterLines = []string{
	"Le {{ date_today }}",
	"{{ pronom_maire }} {{ prenom_maire }} {{ nom_maire }}",
	"Maire de {{ nom_commune }}",
	"{{ adresse_mairie }}",
	"{{ code_postal }} {{ nom_commune }}",
	"{{ pronom_maire }} {{ le_la }} Maire,",
	"Vous êtes {{ seul_e_competent_e }} pour faire cesser les infractions relevées sur votre commune.",
	"Vous trouverez ci-joint {{ nombre_de_fiches }} fiches, de {{ code_fiche_01 }} à {{ code_fiche_dernier_numero }}.",
}

func StarterSheetTemplate() (*docx.Document, error) {
	return starter(starterSheetLines)
}

func StarterLetterTemplate() (*docx.Document, error) {
	return starter(starterLetterLines)
}

func starter(lines []string) (*docx.Document, error) {
	doc := docx.New()
	for _, line := range lines {
		if err := doc.AddParagraph(docx.Run{Text: line}); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// WriteIfMissing saves doc at path unless a file is already there. It reports whether it wrote.
func WriteIfMissing(path string, build func() (*docx.Document, error)) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	doc, err := build()
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	return true, doc.Save(path)
}
