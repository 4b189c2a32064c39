package docx

import (
	"bytes"
	"encoding/xml"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return p
}

func textDoc(t *testing.T, lines ...string) *Document {
	t.Helper()
	doc := New()
	for _, line := range lines {
		if err := doc.AddParagraph(Run{Text: line}); err != nil {
			t.Fatal(err)
		}
	}
	return doc
}

func TestRenderReplacesPlaceholders(t *testing.T) {
	doc := textDoc(t, "Commune : {{ nom_commune }}", "{{inconnu}}fin", "{{ nombre_de_fiches }} fiches")
	err := doc.Render(map[string]any{"nom_commune": "Lyon & Villeurbanne", "nombre_de_fiches": 3})
	if err != nil {
		t.Fatal(err)
	}
	want := "Commune : Lyon & Villeurbanne\nfin\n3 fiches\n"
	if got := doc.Text(); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	part, _ := doc.Part(documentPart)
	if !bytes.Contains(part, []byte("Lyon &amp; Villeurbanne")) {
		t.Fatal("value should be escaped in the XML")
	}
}

func TestRenderCollapsesSplitPlaceholder(t *testing.T) {
	doc := New()
	split := `<w:p><w:r><w:t>Ville {</w:t></w:r><w:proofErr w:type="spellStart"/>` +
		`<w:r><w:t>{ nom</w:t></w:r><w:r><w:rPr><w:b/></w:rPr><w:t>_commune }</w:t></w:r><w:r><w:t>}.</w:t></w:r></w:p>`
	if err := doc.appendBody(split); err != nil {
		t.Fatal(err)
	}
	if got := doc.Placeholders(); len(got) != 1 || got[0] != "nom_commune" {
		t.Fatalf("placeholders=%v", got)
	}
	if err := doc.Render(map[string]any{"nom_commune": "Lyon"}); err != nil {
		t.Fatal(err)
	}
	if got := doc.Text(); got != "Ville Lyon.\n" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderUnsupportedValueLeavesDocumentUntouched(t *testing.T) {
	doc := textDoc(t, "{{ rue }}")
	before, _ := doc.Part(documentPart)
	before = append([]byte{}, before...)

	err := doc.Render(map[string]any{"rue": []string{"a"}})
	if !errors.Is(err, ErrUnsupportedValue) {
		t.Fatalf("err=%v", err)
	}
	after, _ := doc.Part(documentPart)
	if !bytes.Equal(before, after) {
		t.Fatal("document changed after a failed render")
	}

	if err := doc.Render(Stringify(map[string]any{"rue": []string{"a"}})); err != nil {
		t.Fatal(err)
	}
	if got := doc.Text(); got != "[a]\n" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderInlineImage(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, "photo.png", 20, 10)
	doc := textDoc(t, "{{ my_image }}")

	if err := doc.Render(map[string]any{"my_image": InlineImage{Path: img, WidthMM: 100}}); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out.docx")
	if err := doc.Save(out); err != nil {
		t.Fatal(err)
	}
	reopened, err := Open(out)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := reopened.Part(documentPart)
	for _, want := range []string{`r:embed="rId1"`, `cx="3600000" cy="1800000"`, `<wp:docPr id="1"`} {
		if !bytes.Contains(body, []byte(want)) {
			t.Fatalf("document missing %s", want)
		}
	}
	if _, ok := reopened.Part("word/media/image1.png"); !ok {
		t.Fatal("media part missing")
	}
	rels, _ := reopened.Part("word/_rels/document.xml.rels")
	if !bytes.Contains(rels, []byte(`Target="media/image1.png"`)) {
		t.Fatalf("rels=%s", rels)
	}
	types, _ := reopened.Part(contentTypesPart)
	if !bytes.Contains(types, []byte(`Extension="png"`)) {
		t.Fatalf("content types=%s", types)
	}
}

func TestRenderBrokenImageFailsWithoutChanges(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "image_0.jpg")
	if err := os.WriteFile(bad, []byte("<html>not an image</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc := textDoc(t, "{{ my_image }}")
	err := doc.Render(map[string]any{"my_image": InlineImage{Path: bad, WidthMM: 120}})
	if err == nil || errors.Is(err, ErrUnsupportedValue) {
		t.Fatalf("err=%v", err)
	}
	if _, ok := doc.Part("word/media/image1.jpeg"); ok {
		t.Fatal("no media should be stored on failure")
	}
	if got := doc.Text(); got != "{{ my_image }}\n" {
		t.Fatalf("got %q", got)
	}
}

func TestAddParagraphRuns(t *testing.T) {
	doc := New()
	err := doc.AddParagraph(
		Run{Text: "Dispositif ", Font: "Arial"},
		Run{Text: "en infraction", Font: "Arial", Italic: true},
		Run{Breaks: 2},
		Run{Text: "fin", Font: "Arial"},
	)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := doc.Part(documentPart)
	s := string(body)
	if !strings.Contains(s, `<w:rFonts w:ascii="Arial"`) || !strings.Contains(s, "<w:i/>") || !strings.Contains(s, "<w:br/><w:br/>") {
		t.Fatalf("body=%s", s)
	}
	if strings.Index(s, "</w:p>") > strings.Index(s, "<w:sectPr") {
		t.Fatal("paragraph must precede the section properties")
	}
	if got := doc.Text(); got != "Dispositif en infractionfin\n" {
		t.Fatalf("got %q", got)
	}
}

func TestComposeKeepsOrderWithPageBreaks(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"A", "B", "C"} {
		p := filepath.Join(dir, name+".docx")
		if err := textDoc(t, name).Save(p); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	merged, err := Compose(paths)
	if err != nil {
		t.Fatal(err)
	}
	if n := merged.PageBreaks(); n != 2 {
		t.Fatalf("page breaks=%d", n)
	}
	if got := merged.Text(); got != "A\n\nB\n\nC\n" {
		t.Fatalf("got %q", got)
	}
}

func TestComposeCarriesImages(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, "p.png", 4, 4)
	var paths []string
	for _, name := range []string{"A", "B"} {
		doc := textDoc(t, name, "{{ my_image }}")
		if err := doc.Render(map[string]any{"my_image": InlineImage{Path: img, WidthMM: 50}}); err != nil {
			t.Fatal(err)
		}
		p := filepath.Join(dir, name+".docx")
		if err := doc.Save(p); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	merged, err := Compose(paths)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := merged.Part("word/media/image2.png"); !ok {
		t.Fatal("second image not carried over")
	}
	body, _ := merged.Part(documentPart)
	if !bytes.Contains(body, []byte(`r:embed="rId2"`)) || !bytes.Contains(body, []byte(`<wp:docPr id="2"`)) {
		t.Fatalf("second image not remapped: %s", body)
	}
	rels, _ := merged.Part("word/_rels/document.xml.rels")
	if !bytes.Contains(rels, []byte(`Id="rId2"`)) {
		t.Fatalf("rels=%s", rels)
	}
}

func TestComposeRejectsEmptyList(t *testing.T) {
	if _, err := Compose(nil); err == nil {
		t.Fatal("expected error")
	}
}

func decodeAll(t *testing.T, data []byte) {
	t.Helper()
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			t.Fatalf("document.xml is not well-formed: %v", err)
		}
	}
}

func TestControlCharactersKeepDocumentWellFormed(t *testing.T) {
	doc := textDoc(t, "{{ rue }}")
	if err := doc.AddParagraph(Run{Text: "note\x01 \xff fin", Italic: true}); err != nil {
		t.Fatal(err)
	}
	if err := doc.Render(map[string]any{"rue": "Rue\x0bdu Port\tnord"}); err != nil {
		t.Fatal(err)
	}
	part, _ := doc.Part(documentPart)
	decodeAll(t, part)
	if got := doc.Text(); got != "Ruedu Port\tnord\nnote \uFFFD fin\n" {
		t.Fatalf("got %q", got)
	}

	path := filepath.Join(t.TempDir(), "fiche.docx")
	if err := doc.Save(path); err != nil {
		t.Fatal(err)
	}
	merged, err := Compose([]string{path, path})
	if err != nil {
		t.Fatal(err)
	}
	part, _ = merged.Part(documentPart)
	decodeAll(t, part)
}
