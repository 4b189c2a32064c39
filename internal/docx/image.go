package docx

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
)

const emuPerMM = 36000

// InlineImage is a picture rendered in place of a placeholder, scaled to WidthMM.
type InlineImage struct {
	Path    string
	WidthMM int
}

func (i InlineImage) String() string {
	return i.Path
}

var imageContentTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
}

func (i InlineImage) embed(ov *overlay, part string) (string, error) {
	data, err := os.ReadFile(i.Path)
	if err != nil {
		return "", err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image %s: %w", i.Path, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("image %s has no size", i.Path)
	}
	width := i.WidthMM
	if width <= 0 {
		width = cfg.Width * 254 / 960
	}
	cx := int64(width) * emuPerMM
	cy := cx * int64(cfg.Height) / int64(cfg.Width)

	target := ov.addMedia(format, data)
	ov.ensureDefaultContentType(format, imageContentTypes[format])
	relID := ov.addRelationship(part, relTypeImage, target, false)
	return drawingXML(relID, nextDrawingID(ov), filepath.Base(i.Path), cx, cy), nil
}

func nextDrawingID(ov *overlay) int {
	data, _ := ov.get(documentPart)
	maxID := 0
	for _, m := range docPrIDRe.FindAllSubmatch(data, -1) {
		if n, _ := strconv.Atoi(string(m[1])); n > maxID {
			maxID = n
		}
	}
	ov.drawings++
	return maxID + ov.drawings
}

func drawingXML(relID string, id int, name string, cx, cy int64) string {
	return fmt.Sprintf(`<w:drawing><wp:inline xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing" distT="0" distB="0" distL="0" distR="0">`+
		`<wp:extent cx="%[3]d" cy="%[4]d"/><wp:docPr id="%[2]d" name="%[5]s"/>`+
		`<a:graphic xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture">`+
		`<pic:pic xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture">`+
		`<pic:nvPicPr><pic:cNvPr id="%[2]d" name="%[5]s"/><pic:cNvPicPr/></pic:nvPicPr>`+
		`<pic:blipFill><a:blip xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" r:embed="%[1]s"/><a:stretch><a:fillRect/></a:stretch></pic:blipFill>`+
		`<pic:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="%[3]d" cy="%[4]d"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></pic:spPr>`+
		`</pic:pic></a:graphicData></a:graphic></wp:inline></w:drawing>`,
		relID, id, cx, cy, escapeXML(name))
}
