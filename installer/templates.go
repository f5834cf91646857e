package installer

import (
	"embed"
	"path"
)

// defaultTemplates holds the built-in script, Distribution, and
// welcome/conclusion templates used when the user supplies nothing
//
//go:embed templates
var defaultTemplates embed.FS

func defaultTemplate(name string) (string, error) {
	d, err := defaultTemplates.ReadFile(path.Join("templates", name))
	if err != nil {
		return "", err
	}

	return string(d), nil
}
