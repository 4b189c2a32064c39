package docx

import (
	"fmt"
	"strings"
)

// Run is a piece of text sharing one formatting, optionally followed by line breaks.
type Run struct {
	Text   string
	Italic bool
	Font   string
	Breaks int
}

func (r Run) xml() string {
	var b strings.Builder
	b.WriteString("<w:r>")
	if r.Font != "" || r.Italic {
		b.WriteString("<w:rPr>")
		if r.Font != "" {
			f := escapeXML(r.Font)
			fmt.Fprintf(&b, `<w:rFonts w:ascii="%s" w:hAnsi="%s" w:cs="%s"/>`, f, f, f)
		}
		if r.Italic {
			b.WriteString("<w:i/><w:iCs/>")
		}
		b.WriteString("</w:rPr>")
	}
	if r.Text != "" {
		b.WriteString(`<w:t xml:space="preserve">`)
		b.WriteString(escapeXML(r.Text))
		b.WriteString("</w:t>")
	}
	for i := 0; i < r.Breaks; i++ {
		b.WriteString("<w:br/>")
	}
	b.WriteString("</w:r>")
	return b.String()
}

// AddParagraph appends a paragraph made of runs at the end of the body.
func (d *Document) AddParagraph(runs ...Run) error {
	var b strings.Builder
	b.WriteString("<w:p>")
	for _, r := range runs {
		b.WriteString(r.xml())
	}
	b.WriteString("</w:p>")
	return d.appendBody(b.String())
}

const pageBreakParagraph = `<w:p><w:r><w:br w:type="page"/></w:r></w:p>`

func (d *Document) appendBody(fragment string) error {
	src := string(d.parts[documentPart])
	at, err := bodyEnd(src)
	if err != nil {
		return err
	}
	d.parts[documentPart] = []byte(src[:at] + fragment + src[at:])
	return nil
}

// bodyEnd is the offset where new body content goes: before the trailing
// section properties, or before </w:body> when there are none.
func bodyEnd(src string) (int, error) {
	end := strings.LastIndex(src, "</w:body>")
	if end < 0 {
		return 0, fmt.Errorf("%w: no w:body", ErrNotDocx)
	}
	sect := strings.LastIndex(src[:end], "<w:sectPr")
	if sect >= 0 && strings.HasSuffix(strings.TrimSpace(src[sect:end]), "</w:sectPr>") &&
		!strings.Contains(src[sect:end], "</w:p>") {
		return sect, nil
	}
	return end, nil
}

// bodyStart is the offset just after the <w:body> start tag.
func bodyStart(src string) (int, error) {
	i := strings.Index(src, "<w:body")
	if i < 0 {
		return 0, fmt.Errorf("%w: no w:body", ErrNotDocx)
	}
	j := strings.Index(src[i:], ">")
	if j < 0 {
		return 0, fmt.Errorf("%w: truncated w:body", ErrNotDocx)
	}
	return i + j + 1, nil
}
