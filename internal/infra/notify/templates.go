package notify

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"gopkg.in/yaml.v3"
)

//go:embed messages
var MessagesFS embed.FS

// Templates maps message keys to fmt formats.
type Templates struct {
	formats map[string]string
}

// LoadTemplates reads messages/<lang>.yaml from fsys.
func LoadTemplates(fsys fs.FS, lang string) (*Templates, error) {
	name := path.Join("messages", fmt.Sprintf("%s.yaml", lang))
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read message file %s: %w", name, err)
	}
	return templatesFromBytes(data)
}

func templatesFromBytes(data []byte) (*Templates, error) {
	var formats map[string]string
	if err := yaml.Unmarshal(data, &formats); err != nil {
		return nil, fmt.Errorf("failed to parse message file: %w", err)
	}
	return &Templates{formats: formats}, nil
}

// DefaultTemplates returns the embedded English messages.
func DefaultTemplates() (*Templates, error) {
	return LoadTemplates(MessagesFS, "en")
}

// Has reports whether key is defined.
func (t *Templates) Has(key string) bool {
	_, ok := t.formats[key]
	return ok
}

// T renders key with args; unknown keys render as the key itself.
func (t *Templates) T(key string, args ...any) string {
	format, ok := t.formats[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}
