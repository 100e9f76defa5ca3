package template

import (
	"bytes"
	"fmt"
	"io/fs"
	"text/template"
)

// ExecuteSqlTemplate renders the named SQL template from fsys with params.
func ExecuteSqlTemplate(fsys fs.FS, name string, params map[string]any) (string, error) {
	content, err := ReadSqlTemplate(fsys, name)
	if err != nil {
		return "", err
	}
	return Render(name, content, params)
}

// Render parses text as a template and executes it with params.
// Missing keys are an error.
func Render(name, text string, params map[string]any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}

// ReadSqlTemplate reads a SQL template file and returns its contents as a string
func ReadSqlTemplate(fsys fs.FS, name string) (string, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", fmt.Errorf("failed to read template file: %w", err)
	}
	return string(content), nil
}
