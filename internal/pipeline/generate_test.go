package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dossiers/internal"
	"dossiers/internal/commune"
	"dossiers/internal/config"
	"dossiers/internal/docx"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func saveTemplate(t *testing.T, path string, lines ...string) string {
	t.Helper()
	doc := docx.New()
	for _, line := range lines {
		if err := doc.AddParagraph(docx.Run{Text: line}); err != nil {
			t.Fatal(err)
		}
	}
	if err := doc.Save(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func sheetTemplate(t *testing.T, dir string) string {
	return saveTemplate(t, filepath.Join(dir, "fiche.docx"),
		"Fiche {{ code_fiche }}",
		"{{ localisation }}, {{ code_postal }} {{ nom_commune }}",
		"{{ my_image }}")
}

func letterTemplate(t *testing.T, dir string) string {
	return saveTemplate(t, filepath.Join(dir, "lettre.docx"),
		"{{ pronom_maire }} {{ prenom_maire }} {{ nom_maire }}, {{ le_la }} maire, {{ seul_e_competent_e }}",
		"{{ nombre_de_fiches }} fiches de {{ code_fiche_01 }} à {{ code_fiche_dernier_numero }}")
}

func newTestSheetGenerator(t *testing.T, dir string, images *ImageFetcher) *SheetGenerator {
	t.Helper()
	if images == nil {
		images = NewImageFetcher(time.Second, quietLogger())
	}
	return NewSheetGenerator(SheetOptions{
		Template:     sheetTemplate(t, dir),
		OutputDir:    filepath.Join(dir, "out"),
		Skeleton:     filepath.Join(dir, "missing-skeleton"),
		ImageWidthMM: 120,
		Date:         "18 octobre 2026",
	}, testDepartments, images, quietLogger())
}

func openText(t *testing.T, path string) string {
	t.Helper()
	doc, err := docx.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	return doc.Text()
}

func TestSheetFileNameCollision(t *testing.T) {
	dir := t.TempDir()
	g := newTestSheetGenerator(t, dir, nil)

	var names []string
	for i := 0; i < 3; i++ {
		s, err := g.Generate(context.Background(), internal.InfractionRecord{Index: i, Name: "X", City: "Lyon", PostalCode: "69001"})
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, filepath.Base(s.Path))
	}
	want := []string{"X.docx", "XX01.docx", "XX02.docx"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names=%v", names)
		}
	}
}

func TestSheetGenerateContent(t *testing.T) {
	dir := t.TempDir()
	g := newTestSheetGenerator(t, dir, nil)

	rec := internal.InfractionRecord{
		Index: 4, Name: "LY-004", City: "Lyon", PostalCode: "69001",
		Street: "Rue de la République", StreetNumber: "3", Latitude: "45.76",
		Publicite: "Publicité <i>interdite</i><br>sur le domaine public",
	}
	s, err := g.Generate(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if s.Folder != filepath.Join(dir, "out", "69 LYON", InfractionsDir) || s.Status != internal.SheetGenerated {
		t.Fatalf("sheet=%+v", s)
	}
	text := openText(t, s.Path)
	for _, want := range []string{"Fiche LY-004", "3 Rue de la République, 69001 Lyon", "Publicité interdite"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text %q missing %q", text, want)
		}
	}
	for _, sub := range []string{PhotosDir, InfractionsDir, LettersDir} {
		if _, err := os.Stat(filepath.Join(dir, "out", "69 LYON", sub)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "69 LYON", PhotosDir, "default.jpg")); err != nil {
		t.Fatal("placeholder image should exist when the record has no image")
	}
}

func TestSheetRetriesWithTextValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not an image"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	g := newTestSheetGenerator(t, dir, NewImageFetcher(time.Second, quietLogger()))
	s, err := g.Generate(context.Background(), internal.InfractionRecord{Index: 0, Name: "A", City: "Lyon", PostalCode: "69001", ImageURL: srv.URL + "/a.jpg"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(openText(t, s.Path), "image_0.jpg") {
		t.Fatal("retry should render the image as text")
	}
}

func TestSheetCopiesSkeletonOnce(t *testing.T) {
	dir := t.TempDir()
	skeleton := filepath.Join(dir, "skeleton")
	if err := os.MkdirAll(filepath.Join(skeleton, LettersDir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skeleton, "LISEZMOI.txt"), []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	cf, err := EnsureCaseFolder(filepath.Join(dir, "out"), skeleton, "69", "Lyon")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cf.Root, "LISEZMOI.txt"), []byte("edited"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := EnsureCaseFolder(filepath.Join(dir, "out"), skeleton, "69", "Lyon"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(cf.Root, "LISEZMOI.txt"))
	if string(data) != "edited" {
		t.Fatal("existing case folder must not be copied over")
	}
}

func TestImageFetcher(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewImageFetcher(time.Second, quietLogger())
	dest, fallback := filepath.Join(dir, "image_1.jpg"), filepath.Join(dir, "default.jpg")

	if got := f.Fetch(context.Background(), srv.URL+"/ok.jpg", dest, fallback); got != dest {
		t.Fatalf("got %s", got)
	}
	if got := f.Fetch(context.Background(), srv.URL+"/missing.jpg", filepath.Join(dir, "image_2.jpg"), fallback); got != fallback {
		t.Fatalf("got %s", got)
	}
	if got := f.Fetch(context.Background(), "", filepath.Join(dir, "image_3.jpg"), fallback); got != fallback {
		t.Fatalf("got %s", got)
	}
	raw, err := os.Open(fallback)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	cfg, format, err := image.DecodeConfig(raw)
	if err != nil || format != "jpeg" || cfg.Width != 500 || cfg.Height != 500 {
		t.Fatalf("placeholder %v %s %+v", err, format, cfg)
	}
}

type fakeResolver struct {
	byCity map[string]internal.Addressee
}

func (f fakeResolver) Resolve(_ context.Context, city, postalCode string) (internal.Addressee, error) {
	a, ok := f.byCity[city]
	if !ok {
		return internal.Addressee{}, errors.Join(errors.New("aucune commune "+city+" (CP "+postalCode+")"), commune.ErrCommuneNotFound)
	}
	return a, nil
}

func TestLetterGenerate(t *testing.T) {
	dir := t.TempDir()
	resolver := fakeResolver{byCity: map[string]internal.Addressee{
		"Lyon": {City: "Lyon", INSEE: "69123", TownHallLines: "1 place de la Comédie, 69001 Lyon",
			Mayor: internal.Mayor{FirstName: "Jeanne", LastName: "MARTIN", Gender: internal.GenderFemale}},
	}}
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	g := NewLetterGenerator(letterTemplate(t, dir), filepath.Join(dir, "out"), resolver, now, quietLogger())

	group := internal.MunicipalityGroup{
		Key:        internal.MunicipalityKey{Department: "69", City: "Lyon"},
		PostalCode: "69001",
		Records:    []internal.InfractionRecord{{Name: "LY-001"}, {Name: "LY-002"}, {Name: "LY-007"}},
	}
	letter, err := g.Generate(context.Background(), group)
	if err != nil {
		t.Fatal(err)
	}
	wantPath := filepath.Join(dir, "out", "69 LYON", LettersDir, "2026-10-18-demande initiale.docx")
	if letter.LetterPath != wantPath || letter.SheetCount != 3 {
		t.Fatalf("letter=%+v", letter)
	}
	text := openText(t, letter.LetterPath)
	for _, want := range []string{"Madame Jeanne MARTIN, la maire, seule compétente", "3 fiches de LY-001 à LY-007"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text %q missing %q", text, want)
		}
	}

	data, err := os.ReadFile(letter.RecipientsPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "Société\tCivilité\tPrénom\tNom\tBatiment\tLibellé voie\tCode postal\tVille\tPays\r\n" +
		"Madame Jeanne MARTIN\tMaire de Lyon\tMaire de Lyon\tMaire de Lyon\tHôtel de Ville\t1 place de la Comédie, 69001 Lyon\t69001 Lyon\t\tFrance\r\n"
	if string(data) != want {
		t.Fatalf("recipients=%q", data)
	}
}

func TestLetterValuesUnknownMayor(t *testing.T) {
	group := internal.MunicipalityGroup{
		Key:        internal.MunicipalityKey{Department: "26", City: "Valence"},
		PostalCode: "26000",
		Records:    []internal.InfractionRecord{{Name: "VA-1"}},
	}
	a := internal.Addressee{TownHallLines: commune.AddressUnavailable, Mayor: internal.Mayor{Gender: internal.GenderUnknown}}
	v := LetterValues(group, a, "18 octobre 2026")
	if v["pronom_maire"] != "Monsieur" || v["le_la"] != "le" || v["seul_e_competent_e"] != "seul compétent" {
		t.Fatalf("values=%v", v)
	}
	if v["prenom_maire"] != "" || v["nom_maire"] != "" || v["nombre_de_fiches"] != 1 {
		t.Fatalf("values=%v", v)
	}
	if v["code_fiche_01"] != "VA-1" || v["code_fiche_dernier_numero"] != "VA-1" {
		t.Fatalf("values=%v", v)
	}
	if v["nom_commune"] != "Valence" {
		t.Fatalf("letter must name the commune as written in the dataset, got %v", v["nom_commune"])
	}
	row := RecipientRow(group, a)
	if row[0] != "Monsieur" || row[5] != commune.AddressUnavailable {
		t.Fatalf("row=%v", row)
	}
}

func writeSheet(t *testing.T, path, text string) string {
	t.Helper()
	return saveTemplate(t, path, text)
}

func TestMergeOrderAndArchive(t *testing.T) {
	dir := t.TempDir()
	sources := []string{
		writeSheet(t, filepath.Join(dir, "LY-001.docx"), "A"),
		writeSheet(t, filepath.Join(dir, "LY-002.docx"), "B"),
		writeSheet(t, filepath.Join(dir, "LY-003.docx"), "C"),
	}
	m := NewMerger(config.CleanupArchive, "archives", quietLogger())
	merged, err := m.Merge(dir, sources)
	if err != nil {
		t.Fatal(err)
	}
	if merged.Path != filepath.Join(dir, "LY.docx") {
		t.Fatalf("path=%s", merged.Path)
	}
	doc, err := docx.Open(merged.Path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.PageBreaks() != 2 || doc.Text() != "A\n\nB\n\nC\n" {
		t.Fatalf("breaks=%d text=%q", doc.PageBreaks(), doc.Text())
	}
	for _, src := range sources {
		if _, err := os.Stat(src); !os.IsNotExist(err) {
			t.Fatalf("%s should have left the folder", src)
		}
		if _, err := os.Stat(filepath.Join(dir, "archives", filepath.Base(src))); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMergeCombinedNameIsASource(t *testing.T) {
	dir := t.TempDir()
	sources := []string{
		writeSheet(t, filepath.Join(dir, "X.docx"), "first"),
		writeSheet(t, filepath.Join(dir, "XX01.docx"), "second"),
	}
	m := NewMerger(config.CleanupDelete, "archives", quietLogger())
	merged, err := m.Merge(dir, sources)
	if err != nil {
		t.Fatal(err)
	}
	if merged.Path != filepath.Join(dir, "X.docx") {
		t.Fatalf("path=%s", merged.Path)
	}
	if got := openText(t, merged.Path); got != "first\n\nsecond\n" {
		t.Fatalf("text=%q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "XX01.docx")); !os.IsNotExist(err) {
		t.Fatal("source should be deleted")
	}
	if _, err := os.Stat(filepath.Join(dir, "archives")); !os.IsNotExist(err) {
		t.Fatal("delete policy must not archive")
	}
}

func TestMergeDeleteKeepsSheetsWhenRenameFails(t *testing.T) {
	dir := t.TempDir()
	sources := []string{
		writeSheet(t, filepath.Join(dir, "PO-1.docx"), "A"),
		writeSheet(t, filepath.Join(dir, "PO-2.docx"), "B"),
	}
	blocker := filepath.Join(dir, "PO.docx")
	if err := os.MkdirAll(filepath.Join(blocker, "occupé"), 0o755); err != nil {
		t.Fatal(err)
	}
	m := NewMerger(config.CleanupDelete, "archives", quietLogger())
	if _, err := m.Merge(dir, sources); err == nil {
		t.Fatal("expected rename error")
	}
	for _, src := range sources {
		if _, err := os.Stat(src); err != nil {
			t.Fatalf("%s must survive a failed merge: %v", src, err)
		}
	}
}

func TestCombinedName(t *testing.T) {
	cases := map[string]string{
		"/a/LY-001.docx":      "LY.docx",
		"/a/AB-CD-12.docx":    "AB-CD.docx",
		"/a/X.docx":           "X.docx",
		"/a/-12.docx":         "-12.docx",
		"/a/FICHE-01X01.docx": "FICHE.docx",
	}
	for in, want := range cases {
		if got := CombinedName(in); got != want {
			t.Fatalf("%s -> %s want %s", in, got, want)
		}
	}
}
