package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dossiers/internal"
	"dossiers/internal/docx"
	"dossiers/internal/util"
)

const RecipientsFile = "destinataires.txt"

var RecipientColumns = []string{
	"Société", "Civilité", "Prénom", "Nom",
	"Batiment", "Libellé voie", "Code postal", "Ville", "Pays",
}

type AddresseeResolver interface {
	Resolve(ctx context.Context, city, postalCode string) (internal.Addressee, error)
}

// LetterGenerator writes the notice letter and recipient list of each commune.
type LetterGenerator struct {
	template  string
	outputDir string
	resolver  AddresseeResolver
	now       time.Time
	log       *slog.Logger
}

func NewLetterGenerator(template, outputDir string, resolver AddresseeResolver, now time.Time, log *slog.Logger) *LetterGenerator {
	if log == nil {
		log = slog.Default()
	}
	return &LetterGenerator{template: template, outputDir: outputDir, resolver: resolver, now: now, log: log}
}

func (g *LetterGenerator) Generate(ctx context.Context, group internal.MunicipalityGroup) (internal.GeneratedLetter, error) {
	if len(group.Records) == 0 {
		return internal.GeneratedLetter{}, errors.New("aucune fiche pour cette commune")
	}
	if _, err := os.Stat(g.template); err != nil {
		return internal.GeneratedLetter{}, fmt.Errorf("template lettre introuvable: %w", err)
	}

	addressee, err := g.resolver.Resolve(ctx, group.Key.City, group.PostalCode)
	if err != nil {
		return internal.GeneratedLetter{}, err
	}

	dir := filepath.Join(g.outputDir, FolderName(group.Key.Department, group.Key.City), LettersDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return internal.GeneratedLetter{}, err
	}

	doc, err := docx.Open(g.template)
	if err != nil {
		return internal.GeneratedLetter{}, err
	}
	if err := doc.Render(LetterValues(group, addressee, util.FrenchDate(g.now))); err != nil {
		return internal.GeneratedLetter{}, fmt.Errorf("render letter: %w", err)
	}
	letterPath := filepath.Join(dir, g.now.Format("2006-01-02")+"-demande initiale.docx")
	if err := doc.Save(letterPath); err != nil {
		return internal.GeneratedLetter{}, err
	}
	g.log.Info("courrier généré", "path", letterPath)

	recipientsPath := filepath.Join(dir, RecipientsFile)
	if err := WriteRecipients(recipientsPath, group, addressee); err != nil {
		return internal.GeneratedLetter{}, fmt.Errorf("recipients: %w", err)
	}
	g.log.Info("fichier destinataires généré", "path", recipientsPath)

	return internal.GeneratedLetter{
		Key:            group.Key,
		LetterPath:     letterPath,
		RecipientsPath: recipientsPath,
		SheetCount:     len(group.Records),
	}, nil
}

type salutation struct {
	civility  string
	article   string
	competent string
}

// Feminine forms only for a mayor known to be a woman.
func salutationFor(g internal.Gender) salutation {
	if g == internal.GenderFemale {
		return salutation{civility: "Madame", article: "la", competent: "seule compétente"}
	}
	return salutation{civility: "Monsieur", article: "le", competent: "seul compétent"}
}

func LetterValues(group internal.MunicipalityGroup, a internal.Addressee, date string) map[string]any {
	s := salutationFor(a.Mayor.Gender)
	first, last := group.Records[0], group.Records[len(group.Records)-1]
	return map[string]any{
		"date_today":                date,
		"pronom_maire":              s.civility,
		"le_la":                     s.article,
		"prenom_maire":              a.Mayor.FirstName,
		"nom_maire":                 a.Mayor.LastName,
		"nom_commune":               group.Key.City,
		"adresse_mairie":            a.TownHallLines,
		"code_postal":               group.PostalCode,
		"seul_e_competent_e":        s.competent,
		"nombre_de_fiches":          len(group.Records),
		"code_fiche_01":             first.Name,
		"code_fiche_dernier_numero": last.Name,
	}
}

// RecipientRow is the mail-merge line of the commune's mayor, in RecipientColumns order.
func RecipientRow(group internal.MunicipalityGroup, a internal.Addressee) []string {
	s := salutationFor(a.Mayor.Gender)
	city := group.Key.City
	office := "Maire de " + city
	return []string{
		strings.TrimSpace(s.civility + " " + a.Mayor.FirstName + " " + a.Mayor.LastName),
		office,
		office,
		office,
		"Hôtel de Ville",
		a.TownHallLines,
		group.PostalCode + " " + city,
		"",
		"France",
	}
}

func WriteRecipients(path string, group internal.MunicipalityGroup, a internal.Addressee) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Comma = '\t'
	w.UseCRLF = true
	if err := w.WriteAll([][]string{RecipientColumns, RecipientRow(group, a)}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
