package config

import (
	_ "embed"
)

//go:embed templates/backupconf.yml
var defaultTemplate string

// Template returns the annotated configuration template printed by --template.
func Template() string {
	return defaultTemplate
}
