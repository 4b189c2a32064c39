package pipeline

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"dossiers/internal/docx"
)

const infractionFont = "Arial"

// ParseInfractionMarkup turns infraction text into runs: <i> spans become
// italic, <br> becomes a double line break, any other tag keeps its text.
func ParseInfractionMarkup(markup string) ([]docx.Run, error) {
	if strings.TrimSpace(markup) == "" {
		return nil, nil
	}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}

	runs := []docx.Run{}
	goquery.NewDocumentFromNode(body).Contents().Each(func(_ int, node *goquery.Selection) {
		switch goquery.NodeName(node) {
		case "#text":
			runs = append(runs, docx.Run{Text: node.Text(), Font: infractionFont})
		case "i":
			runs = append(runs, docx.Run{Text: node.Text(), Font: infractionFont, Italic: true})
		case "br":
			runs = append(runs, docx.Run{Breaks: 2})
		case "#comment":
		default:
			if text := node.Text(); text != "" {
				runs = append(runs, docx.Run{Text: text, Font: infractionFont})
			}
		}
	})
	return runs, nil
}
