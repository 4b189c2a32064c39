package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dossiers/internal"
	"dossiers/internal/docx"
	"dossiers/internal/util"
)

const defaultSheetName = "fiche"

// SheetGenerator renders one sheet per record into its commune's case folder.
// File names are unique per generator: a repeated identifier X gives X.docx, XX01.docx, XX02.docx...
type SheetGenerator struct {
	template    string
	outputDir   string
	skeleton    string
	imageWidth  int
	departments DepartmentNames
	images      *ImageFetcher
	date        string
	log         *slog.Logger

	seen map[string]int
}

type SheetOptions struct {
	Template     string
	OutputDir    string
	Skeleton     string
	ImageWidthMM int
	Date         string
}

func NewSheetGenerator(opts SheetOptions, departments DepartmentNames, images *ImageFetcher, log *slog.Logger) *SheetGenerator {
	if log == nil {
		log = slog.Default()
	}
	return &SheetGenerator{
		template:    opts.Template,
		outputDir:   opts.OutputDir,
		skeleton:    opts.Skeleton,
		imageWidth:  opts.ImageWidthMM,
		departments: departments,
		images:      images,
		date:        opts.Date,
		log:         log,
		seen:        map[string]int{},
	}
}

func (g *SheetGenerator) Generate(ctx context.Context, rec internal.InfractionRecord) (internal.GeneratedSheet, error) {
	sheet := Normalize(rec, g.departments, g.date)

	cf, err := EnsureCaseFolder(g.outputDir, g.skeleton, sheet.Department, sheet.City)
	if err != nil {
		return internal.GeneratedSheet{}, fmt.Errorf("case folder: %w", err)
	}

	imagePath := g.images.Fetch(ctx, rec.ImageURL,
		filepath.Join(cf.Photos, fmt.Sprintf("image_%d.jpg", rec.Index)),
		filepath.Join(cf.Photos, "default.jpg"))

	doc, err := docx.Open(g.template)
	if err != nil {
		return internal.GeneratedSheet{}, fmt.Errorf("open sheet template: %w", err)
	}

	values := sheet.Values()
	values["my_image"] = docx.InlineImage{Path: imagePath, WidthMM: g.imageWidth}
	if err := g.render(doc, values, rec); err != nil {
		return internal.GeneratedSheet{}, err
	}

	runs, err := ParseInfractionMarkup(sheet.Infraction)
	if err != nil {
		return internal.GeneratedSheet{}, fmt.Errorf("infraction text: %w", err)
	}
	if err := doc.AddParagraph(runs...); err != nil {
		return internal.GeneratedSheet{}, err
	}

	path := filepath.Join(cf.Infractions, g.fileName(sheet.Identifier))
	if err := doc.Save(path); err != nil {
		_ = os.Remove(path)
		return internal.GeneratedSheet{}, fmt.Errorf("save sheet: %w", err)
	}
	g.log.Info("fichier DOCX créé", "path", path)

	return internal.GeneratedSheet{
		RowIndex:   rec.Index,
		Identifier: sheet.Identifier,
		Folder:     cf.Infractions,
		Path:       path,
		Status:     internal.SheetGenerated,
	}, nil
}

// render tries the typed values first, then once more with every value as text.
func (g *SheetGenerator) render(doc *docx.Document, values map[string]any, rec internal.InfractionRecord) error {
	err := doc.Render(values)
	if err == nil {
		return nil
	}
	g.log.Warn("erreur de rendu, nouvel essai avec des valeurs texte", "fiche", rec.Name, "index", rec.Index, "error", err)
	if err := doc.Render(docx.Stringify(values)); err != nil {
		return fmt.Errorf("render sheet: %w", err)
	}
	return nil
}

func (g *SheetGenerator) fileName(identifier string) string {
	base := util.SafeFileName(strings.TrimSpace(identifier))
	if base == "" {
		base = defaultSheetName
	}
	n, dup := g.seen[base]
	if !dup {
		g.seen[base] = 0
		return base + ".docx"
	}
	n++
	g.seen[base] = n
	return fmt.Sprintf("%sX%02d.docx", base, n)
}
