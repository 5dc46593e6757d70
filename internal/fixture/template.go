package fixture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/refinery29/highwind/internal/fake"
)

// TemplateData is the root context a template fixture executes against.
type TemplateData struct {
	Path  string
	Query map[string]string
}

// Evaluate runs the template fixture backing the request and returns its
// output, which is expected to be JSON. The file is re-read and re-parsed on
// every request: edits to a template fixture must take effect on the next
// request without a server restart, so compiled templates are deliberately
// never cached.
func (s *Store) Evaluate(path, rawQuery string, data TemplateData) ([]byte, error) {
	file := s.Path(path, rawQuery, FormatTemplate)
	src, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("error reading template fixture %s: %w", file, err)
	}
	src, err = s.decode(src)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(filepath.Base(file)).Funcs(templateFuncs(data)).Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("error parsing template fixture %s: %w", file, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("error executing template fixture %s: %w", file, err)
	}
	return buf.Bytes(), nil
}

// templateFuncs builds the helper set available inside template fixtures.
func templateFuncs(data TemplateData) template.FuncMap {
	return template.FuncMap{
		"toJson": func(v any) string {
			out, err := json.Marshal(v)
			if err != nil {
				return "null"
			}
			return string(out)
		},
		"now": func() time.Time {
			return time.Now()
		},
		"randInt": func(min, max int) int {
			if max <= min {
				return min
			}
			return rand.Intn(max-min) + min
		},
		"query": func(key string) string {
			return data.Query[key]
		},
		"fakeName":      fake.Name,
		"fakeEmail":     fake.Email,
		"fakePhone":     fake.Phone,
		"fakeUsername":  fake.Username,
		"fakeStreet":    fake.Street,
		"fakeCity":      fake.City,
		"fakeCountry":   fake.Country,
		"fakeSentence":  fake.Sentence,
		"fakeParagraph": fake.Paragraph,
		"fakeUUID":      fake.UUID,
	}
}
