package fixture

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/SOLUCIONESSYCOM/scribe"
	"golang.org/x/text/encoding"
)

// Format identifies which of the supported fixture representations backs an
// identifier. At most one format is served per request; when several files
// exist for the same identifier base, JSON wins over template, template over
// static markup.
type Format int

const (
	FormatNone Format = iota
	FormatJSON
	FormatTemplate
	FormatHTML
)

// Ext returns the file extension for the format, without the dot.
func (f Format) Ext() string {
	switch f {
	case FormatJSON:
		return ExtJSON
	case FormatTemplate:
		return ExtTemplate
	case FormatHTML:
		return ExtHTML
	}
	return ""
}

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatTemplate:
		return "template"
	case FormatHTML:
		return "html"
	}
	return "none"
}

// probeOrder is the fixed lookup precedence across fixture formats.
var probeOrder = []Format{FormatJSON, FormatTemplate, FormatHTML}

// Store reads and writes fixture files under a single root directory. It
// keeps no per-identifier state and takes no locks: concurrent writers for
// the same identifier race and the last write wins, which is acceptable for
// idempotent response snapshots.
type Store struct {
	root   string
	ignore []*regexp.Regexp
	enc    encoding.Encoding
	logger *scribe.Scribe
}

// NewStore creates a store rooted at root. enc may be nil for UTF-8 input;
// otherwise file contents are decoded through it on every read.
func NewStore(root string, ignore []*regexp.Regexp, enc encoding.Encoding, logger *scribe.Scribe) *Store {
	return &Store{
		root:   root,
		ignore: ignore,
		enc:    enc,
		logger: logger,
	}
}

// Root returns the directory fixtures are persisted under.
func (s *Store) Root() string {
	return s.root
}

// Name returns the identifier base for a request, after query-string
// filtering and path flattening.
func (s *Store) Name(path, rawQuery string) string {
	return Flatten(path, rawQuery, s.ignore)
}

// Path returns the on-disk location the request resolves to for a format.
func (s *Store) Path(path, rawQuery string, f Format) string {
	return Resolve(path, rawQuery, s.ignore, s.root, f.Ext())
}

// Probe reports the first format present for the request's identifier, in
// precedence order, or FormatNone when no fixture exists.
func (s *Store) Probe(path, rawQuery string) Format {
	for _, f := range probeOrder {
		if info, err := os.Stat(s.Path(path, rawQuery, f)); err == nil && !info.IsDir() {
			return f
		}
	}
	return FormatNone
}

// ReadRaw returns the decoded file contents for the request in the given
// format. Raw reads are used for markup fixtures and for JSONP payloads,
// which are served byte-for-byte.
func (s *Store) ReadRaw(path, rawQuery string, f Format) ([]byte, error) {
	file := s.Path(path, rawQuery, f)
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("error reading fixture %s: %w", file, err)
	}
	return s.decode(data)
}

// ReadJSON returns the parsed value of a JSON fixture. It never fails:
// a missing or unparsable file degrades to an empty object with an
// error-level diagnostic, so a corrupt cached fixture cannot take down the
// request that touched it.
func (s *Store) ReadJSON(path, rawQuery string) any {
	file := s.Path(path, rawQuery, FormatJSON)
	data, err := os.ReadFile(file)
	if err == nil {
		data, err = s.decode(data)
	}
	if err != nil {
		s.logger.Error().Str("fixture", file).AnErr("error", err).Msg("Error reading JSON fixture, serving empty object")
		return map[string]any{}
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		s.logger.Error().Str("fixture", file).AnErr("error", err).Msg("Error parsing JSON fixture, serving empty object")
		return map[string]any{}
	}
	return value
}

// DecodeJSON parses a JSON document, typically the output of a template
// fixture evaluation.
func DecodeJSON(data []byte) (any, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("error parsing JSON document: %w", err)
	}
	return value, nil
}

// WriteJSON persists a structured value as an indented JSON fixture.
func (s *Store) WriteJSON(path, rawQuery string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling fixture: %w", err)
	}
	return s.writeFile(s.Path(path, rawQuery, FormatJSON), data)
}

// Write persists raw content under the extension its kind demands. JSONP
// payloads keep the .json extension so the identifier that embeds the
// callback query string finds them again; other non-JSON content is stored
// as markup.
func (s *Store) Write(path, rawQuery string, content []byte, isJSON bool) error {
	f := FormatHTML
	if isJSON || HasCallback(s.Name(path, rawQuery)) {
		f = FormatJSON
	}
	return s.writeFile(s.Path(path, rawQuery, f), content)
}

// WriteText persists a textual payload.
func (s *Store) WriteText(path, rawQuery string, body []byte) error {
	return s.Write(path, rawQuery, body, false)
}

func (s *Store) writeFile(file string, data []byte) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("error creating fixtures directory: %w", err)
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return fmt.Errorf("error writing fixture %s: %w", file, err)
	}
	return nil
}

func (s *Store) decode(data []byte) ([]byte, error) {
	if s.enc == nil {
		return data, nil
	}
	decoded, err := s.enc.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("error decoding fixture contents: %w", err)
	}
	return decoded, nil
}
