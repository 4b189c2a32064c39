package docx

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
)

const (
	documentPart     = "word/document.xml"
	contentTypesPart = "[Content_Types].xml"

	nsRelationships = "http://schemas.openxmlformats.org/package/2006/relationships"
	relTypeImage    = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
)

var ErrNotDocx = errors.New("not a docx package")

// Document is an in-memory WordprocessingML package. Parts keep their archive order.
type Document struct {
	names []string
	parts map[string][]byte
}

func Open(filePath string) (*Document, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	doc, err := Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return doc, nil
}

func Read(r io.ReaderAt, size int64) (*Document, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDocx, err)
	}
	doc := &Document{parts: make(map[string][]byte, len(zr.File))}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		doc.names = append(doc.names, f.Name)
		doc.parts[f.Name] = data
	}
	if _, ok := doc.parts[documentPart]; !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrNotDocx, documentPart)
	}
	return doc, nil
}

// New returns an empty A4 document.
func New() *Document {
	doc := &Document{parts: map[string][]byte{}}
	doc.set(contentTypesPart, []byte(blankContentTypes))
	doc.set("_rels/.rels", []byte(blankPackageRels))
	doc.set(documentPart, []byte(blankDocument))
	doc.set("word/_rels/document.xml.rels", []byte(emptyRels))
	return doc
}

func (d *Document) Save(filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	if _, err := d.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (d *Document) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	for _, name := range d.names {
		fw, err := zw.Create(name)
		if err != nil {
			return cw.n, err
		}
		if _, err := fw.Write(d.parts[name]); err != nil {
			return cw.n, err
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// Part returns the raw content of a package part.
func (d *Document) Part(name string) ([]byte, bool) {
	data, ok := d.parts[name]
	return data, ok
}

var (
	textRe      = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>|</w:p>`)
	pageBreakRe = regexp.MustCompile(`<w:br\s+w:type="page"\s*/>`)
)

// Text returns the body text, one line per paragraph.
func (d *Document) Text() string {
	var b strings.Builder
	for _, m := range textRe.FindAllStringSubmatch(string(d.parts[documentPart]), -1) {
		if m[0] == "</w:p>" {
			b.WriteByte('\n')
			continue
		}
		b.WriteString(unescapeXML(m[1]))
	}
	return b.String()
}

// PageBreaks counts explicit page breaks in the body.
func (d *Document) PageBreaks() int {
	return len(pageBreakRe.FindAllIndex(d.parts[documentPart], -1))
}

func (d *Document) set(name string, data []byte) {
	if _, ok := d.parts[name]; !ok {
		d.names = append(d.names, name)
	}
	d.parts[name] = data
}

// overlay collects part changes so that a failed edit leaves the document untouched.
type overlay struct {
	doc      *Document
	changes  map[string][]byte
	order    []string
	drawings int
}

func (d *Document) edit() *overlay {
	return &overlay{doc: d, changes: map[string][]byte{}}
}

func (o *overlay) get(name string) ([]byte, bool) {
	if data, ok := o.changes[name]; ok {
		return data, true
	}
	data, ok := o.doc.parts[name]
	return data, ok
}

func (o *overlay) put(name string, data []byte) {
	if _, ok := o.changes[name]; !ok {
		o.order = append(o.order, name)
	}
	o.changes[name] = data
}

func (o *overlay) commit() {
	for _, name := range o.order {
		o.doc.set(name, o.changes[name])
	}
}

func relsPartFor(part string) string {
	dir, file := path.Split(part)
	return dir + "_rels/" + file + ".rels"
}

var (
	relIDRe   = regexp.MustCompile(`Id="rId(\d+)"`)
	docPrIDRe = regexp.MustCompile(`<wp:docPr\s+id="(\d+)"`)
)

// addRelationship registers target in the relationships of part and returns the new id.
func (o *overlay) addRelationship(part, relType, target string, external bool) string {
	relsPart := relsPartFor(part)
	data, ok := o.get(relsPart)
	if !ok {
		data = []byte(emptyRels)
	}
	maxID := 0
	for _, m := range relIDRe.FindAllSubmatch(data, -1) {
		if n, err := strconv.Atoi(string(m[1])); err == nil && n > maxID {
			maxID = n
		}
	}
	id := "rId" + strconv.Itoa(maxID+1)
	mode := ""
	if external {
		mode = ` TargetMode="External"`
	}
	entry := fmt.Sprintf(`<Relationship Id="%s" Type="%s" Target="%s"%s/>`, id, relType, escapeXML(target), mode)
	o.put(relsPart, insertBefore(data, "</Relationships>", entry))
	return id
}

func (o *overlay) ensureDefaultContentType(ext, contentType string) {
	data, _ := o.get(contentTypesPart)
	if bytes.Contains(bytes.ToLower(data), []byte(`extension="`+strings.ToLower(ext)+`"`)) {
		return
	}
	entry := fmt.Sprintf(`<Default Extension="%s" ContentType="%s"/>`, ext, contentType)
	o.put(contentTypesPart, insertBefore(data, "</Types>", entry))
}

// addMedia stores data under a fresh word/media name and returns the name relative to word/.
func (o *overlay) addMedia(ext string, data []byte) string {
	for n := 1; ; n++ {
		name := fmt.Sprintf("word/media/image%d.%s", n, ext)
		if _, taken := o.get(name); !taken {
			o.put(name, data)
			return strings.TrimPrefix(name, "word/")
		}
	}
}

func insertBefore(data []byte, marker, entry string) []byte {
	i := bytes.LastIndex(data, []byte(marker))
	if i < 0 {
		return append(append([]byte{}, data...), entry...)
	}
	out := make([]byte, 0, len(data)+len(entry))
	out = append(out, data[:i]...)
	out = append(out, entry...)
	return append(out, data[i:]...)
}

var (
	xmlEscaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	xmlUnescaper = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'")
)

// escapeXML also drops runes that XML 1.0 cannot carry, such as the
// vertical tab Word leaves in pasted text. Invalid UTF-8 becomes U+FFFD.
func escapeXML(s string) string {
	return xmlEscaper.Replace(strings.Map(xmlChar, strings.ToValidUTF8(s, "\uFFFD")))
}

func unescapeXML(s string) string { return xmlUnescaper.Replace(s) }

func xmlChar(r rune) rune {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return r
	case r < 0x20, r >= 0xD800 && r <= 0xDFFF, r == 0xFFFE, r == 0xFFFF:
		return -1
	}
	return r
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

const xmlHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"

const blankContentTypes = xmlHeader + `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`</Types>`

const blankPackageRels = xmlHeader + `<Relationships xmlns="` + nsRelationships + `">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
	`</Relationships>`

const emptyRels = xmlHeader + `<Relationships xmlns="` + nsRelationships + `"></Relationships>`

const blankDocument = xmlHeader + `<w:document` +
	` xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"` +
	` xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"` +
	` xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing"` +
	` xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"` +
	` xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture">` +
	`<w:body><w:sectPr><w:pgSz w:w="11906" w:h="16838"/>` +
	`<w:pgMar w:top="1417" w:right="1417" w:bottom="1417" w:left="1417" w:header="708" w:footer="708" w:gutter="0"/>` +
	`</w:sectPr></w:body></w:document>`
