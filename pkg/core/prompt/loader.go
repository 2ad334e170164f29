package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"text/template"
)

// Built-in prompt IDs.
const (
	DealExtraction       = "extraction.deal_extraction"
	DealExtractionVision = "extraction.deal_extraction_vision"
	DocumentClassifier   = "classification.document_classification"
)

//go:embed builtin
var builtinFS embed.FS

// LoadBuiltin registers the prompts compiled into the binary.
func LoadBuiltin(r *Registry) error {
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		return err
	}
	return LoadFS(r, sub)
}

// LoadFromDirectory loads all prompts and schemas from a directory structure,
// overriding built-ins with the same ID.
// Expected structure:
//
//	baseDir/
//	  prompts/
//	    category1/
//	      prompt1.json
//	  schemas/
//	    schema1.json
func LoadFromDirectory(r *Registry, baseDir string) error {
	if _, err := os.Stat(baseDir); err != nil {
		return fmt.Errorf("prompt directory: %w", err)
	}
	return LoadFS(r, os.DirFS(baseDir))
}

// LoadFS loads prompts/ and the optional schemas/ tree from fsys.
func LoadFS(r *Registry, fsys fs.FS) error {
	if err := loadPrompts(r, fsys, "prompts"); err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	if err := loadSchemas(r, fsys, "schemas"); err != nil {
		return fmt.Errorf("failed to load schemas: %w", err)
	}
	return nil
}

// loadPrompts recursively loads all .json files from the prompts directory
func loadPrompts(r *Registry, fsys fs.FS, dir string) error {
	if _, err := fs.Stat(fsys, dir); err != nil {
		return fmt.Errorf("prompts directory not found: %s", dir)
	}

	return fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".json" {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}

		var pt PromptTemplate
		if err := json.Unmarshal(data, &pt); err != nil {
			return fmt.Errorf("failed to parse %s: %w", p, err)
		}

		// Auto-generate ID from path if not specified
		if pt.ID == "" {
			pt.ID = generateIDFromPath(p, dir)
		}
		if pt.Category == "" {
			pt.Category = detectCategory(p, dir)
		}

		if err := r.Register(&pt); err != nil {
			return fmt.Errorf("failed to register %s: %w", pt.ID, err)
		}
		return nil
	})
}

// loadSchemas loads all schema JSON files
func loadSchemas(r *Registry, fsys fs.FS, dir string) error {
	if _, err := fs.Stat(fsys, dir); err != nil {
		return nil // Schemas are optional
	}

	return fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".json" {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read schema %s: %w", p, err)
		}

		baseName := strings.TrimSuffix(path.Base(p), ".json")
		return r.RegisterSchema(&ResponseSchema{
			ID:         baseName,
			Name:       baseName,
			JSONSchema: string(data),
		})
	})
}

// generateIDFromPath creates a prompt ID from the file path
// e.g., "prompts/extraction/deal_extraction.json" -> "extraction.deal_extraction"
func generateIDFromPath(p string, baseDir string) string {
	rel := strings.TrimPrefix(p, baseDir+"/")
	rel = strings.TrimSuffix(rel, ".json")
	return strings.ReplaceAll(rel, "/", ".")
}

// detectCategory extracts the category from the folder structure
func detectCategory(p string, baseDir string) string {
	parts := strings.Split(strings.TrimPrefix(p, baseDir+"/"), "/")
	if len(parts) > 1 {
		return parts[0]
	}
	return "default"
}

// RenderUserPrompt executes the user prompt template with the given context
func RenderUserPrompt(pt *PromptTemplate, ctx *PromptExecutionContext) (string, error) {
	if pt.UserPromptTmpl == "" {
		return "", nil
	}

	tmpl, err := template.New(pt.ID).Option("missingkey=zero").Parse(pt.UserPromptTmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx.Variables); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// Render looks up id and renders its user prompt, returning the system
// prompt alongside.
func (r *Registry) Render(id string, ctx *PromptExecutionContext) (user string, system string, err error) {
	pt, err := r.GetPrompt(id)
	if err != nil {
		return "", "", err
	}
	for _, v := range pt.Variables {
		if _, ok := ctx.Variables[v.Name]; !ok && v.Required {
			return "", "", fmt.Errorf("prompt %s: missing required variable %s", id, v.Name)
		}
	}
	user, err = RenderUserPrompt(pt, ctx)
	if err != nil {
		return "", "", fmt.Errorf("prompt %s: %w", id, err)
	}
	return user, pt.SystemPrompt, nil
}
