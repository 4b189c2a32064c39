package docx

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

var ErrUnsupportedValue = errors.New("unsupported template value")

var (
	// A placeholder whose braces or name were split across runs by the editor.
	splitPlaceholderRe = regexp.MustCompile(`\{(?:<[^>]*>)*\{(?:[^{}<]|<[^>]*>)*?\}(?:<[^>]*>)*\}`)
	placeholderRe      = regexp.MustCompile(`\{\{\s*([\p{L}\p{N}_]+)\s*\}\}`)
	tagRe              = regexp.MustCompile(`<[^>]*>`)
	bareTextRe         = regexp.MustCompile(`<w:t>`)
	templatedPartRe    = regexp.MustCompile(`^word/(document|header\d*|footer\d*)\.xml$`)
)

// Render substitutes {{ key }} placeholders in the body, headers and footers.
// Keys missing from values render empty. On error the document is left unchanged.
func (d *Document) Render(values map[string]any) error {
	if err := checkValues(values); err != nil {
		return err
	}

	ov := d.edit()
	for _, name := range d.names {
		if !templatedPartRe.MatchString(name) {
			continue
		}
		rendered, err := renderPart(ov, name, string(d.parts[name]), values)
		if err != nil {
			return err
		}
		ov.put(name, []byte(rendered))
	}
	ov.commit()
	return nil
}

// Placeholders lists the distinct keys referenced by the document, sorted.
func (d *Document) Placeholders() []string {
	seen := map[string]bool{}
	for _, name := range d.names {
		if !templatedPartRe.MatchString(name) {
			continue
		}
		src := collapsePlaceholders(string(d.parts[name]))
		for _, m := range placeholderRe.FindAllStringSubmatch(src, -1) {
			seen[m[1]] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func checkValues(values map[string]any) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch values[k].(type) {
		case InlineImage, *InlineImage:
			continue
		}
		if _, ok := formatScalar(values[k]); !ok {
			return fmt.Errorf("%w: %s (%T)", ErrUnsupportedValue, k, values[k])
		}
	}
	return nil
}

func renderPart(ov *overlay, name, src string, values map[string]any) (string, error) {
	src = collapsePlaceholders(src)

	var renderErr error
	out := placeholderRe.ReplaceAllStringFunc(src, func(match string) string {
		if renderErr != nil {
			return match
		}
		key := placeholderRe.FindStringSubmatch(match)[1]
		var img *InlineImage
		switch v := values[key].(type) {
		case InlineImage:
			img = &v
		case *InlineImage:
			img = v
		default:
			text, _ := formatScalar(v)
			return escapeXML(text)
		}
		if img == nil {
			return ""
		}
		drawing, err := img.embed(ov, name)
		if err != nil {
			renderErr = fmt.Errorf("%s: %w", key, err)
			return match
		}
		return `</w:t></w:r><w:r>` + drawing + `</w:r><w:r><w:t xml:space="preserve">`
	})
	if renderErr != nil {
		return "", renderErr
	}
	return bareTextRe.ReplaceAllString(out, `<w:t xml:space="preserve">`), nil
}

func collapsePlaceholders(src string) string {
	return splitPlaceholderRe.ReplaceAllStringFunc(src, func(m string) string {
		return tagRe.ReplaceAllString(m, "")
	})
}

func formatScalar(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", true
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return "", false
}

// Stringify coerces every value to text, nil becoming "".
func Stringify(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		switch v := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = v
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
