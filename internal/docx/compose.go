package docx

import (
	"encoding/xml"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

type relationships struct {
	Items []struct {
		ID         string `xml:"Id,attr"`
		Type       string `xml:"Type,attr"`
		Target     string `xml:"Target,attr"`
		TargetMode string `xml:"TargetMode,attr"`
	} `xml:"Relationship"`
}

var (
	relRefRe      = regexp.MustCompile(`(r:(?:embed|id|link))="([^"]+)"`)
	defaultTypeRe = regexp.MustCompile(`<Default\s+Extension="([^"]+)"\s+ContentType="([^"]+)"`)
)

// Compose concatenates the documents at paths in order, with one page break
// between consecutive documents. Styles and numbering come from the first document.
func Compose(paths []string) (*Document, error) {
	if len(paths) == 0 {
		return nil, errors.New("compose: no documents")
	}
	base, err := Open(paths[0])
	if err != nil {
		return nil, err
	}
	for _, p := range paths[1:] {
		doc, err := Open(p)
		if err != nil {
			return nil, err
		}
		if err := base.Append(doc); err != nil {
			return nil, fmt.Errorf("append %s: %w", p, err)
		}
	}
	return base, nil
}

// Append adds a page break then the body of src. Images and external links
// referenced by src are carried over under fresh relationship ids.
func (d *Document) Append(src *Document) error {
	body, err := bodyContent(string(src.parts[documentPart]))
	if err != nil {
		return err
	}

	var rels relationships
	if data, ok := src.parts[relsPartFor(documentPart)]; ok {
		if err := xml.Unmarshal(data, &rels); err != nil {
			return fmt.Errorf("parse relationships: %w", err)
		}
	}
	srcTypes := map[string]string{}
	for _, m := range defaultTypeRe.FindAllStringSubmatch(string(src.parts[contentTypesPart]), -1) {
		srcTypes[strings.ToLower(m[1])] = m[2]
	}

	ov := d.edit()
	remap := map[string]string{}
	for _, m := range relRefRe.FindAllStringSubmatch(body, -1) {
		oldID := m[2]
		if _, done := remap[oldID]; done {
			continue
		}
		for _, rel := range rels.Items {
			if rel.ID != oldID {
				continue
			}
			switch {
			case rel.TargetMode == "External":
				remap[oldID] = ov.addRelationship(documentPart, rel.Type, rel.Target, true)
			case rel.Type == relTypeImage:
				mediaPath := resolveTarget(rel.Target)
				data, ok := src.parts[mediaPath]
				if !ok {
					return fmt.Errorf("missing media %s", mediaPath)
				}
				ext := strings.TrimPrefix(path.Ext(mediaPath), ".")
				contentType := srcTypes[strings.ToLower(ext)]
				if contentType == "" {
					contentType = "image/" + strings.ToLower(ext)
				}
				target := ov.addMedia(ext, data)
				ov.ensureDefaultContentType(ext, contentType)
				remap[oldID] = ov.addRelationship(documentPart, relTypeImage, target, false)
			}
		}
	}

	body = relRefRe.ReplaceAllStringFunc(body, func(attr string) string {
		m := relRefRe.FindStringSubmatch(attr)
		if id, ok := remap[m[2]]; ok {
			return m[1] + `="` + id + `"`
		}
		return attr
	})
	body = renumberDrawings(string(d.parts[documentPart]), body)

	dst := string(d.parts[documentPart])
	at, err := bodyEnd(dst)
	if err != nil {
		return err
	}
	ov.put(documentPart, []byte(dst[:at]+pageBreakParagraph+body+dst[at:]))
	ov.commit()
	return nil
}

func bodyContent(src string) (string, error) {
	start, err := bodyStart(src)
	if err != nil {
		return "", err
	}
	end, err := bodyEnd(src)
	if err != nil {
		return "", err
	}
	if end < start {
		return "", fmt.Errorf("%w: malformed body", ErrNotDocx)
	}
	return src[start:end], nil
}

func resolveTarget(target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Clean(path.Join("word", target))
}

// renumberDrawings shifts drawing ids of body above those already used in dst.
func renumberDrawings(dst, body string) string {
	maxID := 0
	for _, m := range docPrIDRe.FindAllStringSubmatch(dst, -1) {
		if n, _ := strconv.Atoi(m[1]); n > maxID {
			maxID = n
		}
	}
	next := maxID
	return docPrIDRe.ReplaceAllStringFunc(body, func(string) string {
		next++
		return `<wp:docPr id="` + strconv.Itoa(next) + `"`
	})
}
