package template

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Engine renders Go text/template strings with the sprig function library.
// Parsed templates are cached by their source text.
type Engine struct {
	funcs template.FuncMap

	mu     sync.RWMutex
	parsed map[string]*template.Template
}

// New creates a new template engine
func New() *Engine {
	return &Engine{
		funcs:  sprig.TxtFuncMap(),
		parsed: make(map[string]*template.Template),
	}
}

// Render executes a single template string against data. Referencing a
// missing key is an error.
func (e *Engine) Render(text string, data map[string]interface{}) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := e.parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func (e *Engine) parse(text string) (*template.Template, error) {
	e.mu.RLock()
	tmpl, ok := e.parsed[text]
	e.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	tmpl, err := template.New("value").Funcs(e.funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	e.mu.Lock()
	e.parsed[text] = tmpl
	e.mu.Unlock()
	return tmpl, nil
}

// Replace renders every string in value, descending into maps and slices.
func (e *Engine) Replace(value interface{}, data map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.Render(v, data)
	case map[string]string:
		return e.RenderMap(v, data)
	case map[string]interface{}:
		return e.replaceMapTemplates(v, data)
	case []interface{}:
		return e.replaceSliceTemplates(v, data)
	default:
		// Non-templatable types are returned as-is
		return value, nil
	}
}

// RenderMap renders every value of m. Keys are left untouched.
func (e *Engine) RenderMap(m map[string]string, data map[string]interface{}) (map[string]string, error) {
	result := make(map[string]string, len(m))
	for key, value := range m {
		rendered, err := e.Render(value, data)
		if err != nil {
			return nil, fmt.Errorf("error in key '%s': %w", key, err)
		}
		result[key] = rendered
	}
	return result, nil
}

// replaceMapTemplates recursively replaces templates in a map
func (e *Engine) replaceMapTemplates(m map[string]interface{}, data map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(m))

	for key, value := range m {
		replacedValue, err := e.Replace(value, data)
		if err != nil {
			return nil, fmt.Errorf("error in key '%s': %w", key, err)
		}
		result[key] = replacedValue
	}

	return result, nil
}

// replaceSliceTemplates recursively replaces templates in a slice
func (e *Engine) replaceSliceTemplates(s []interface{}, data map[string]interface{}) ([]interface{}, error) {
	result := make([]interface{}, len(s))

	for i, value := range s {
		replacedValue, err := e.Replace(value, data)
		if err != nil {
			return nil, fmt.Errorf("error at index %d: %w", i, err)
		}
		result[i] = replacedValue
	}

	return result, nil
}
