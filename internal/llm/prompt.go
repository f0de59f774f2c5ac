package llm

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed prompt.md
var systemPrompt string

// CatalogEntry is one reference row offered to the model so it can answer
// with catalog ids.
type CatalogEntry struct {
	ID   int64
	Name string
}

// CatalogHints lists the reference rows embedded in the prompt. Empty slices
// are left out of the prompt.
type CatalogHints struct {
	Skills []CatalogEntry
	Roles  []CatalogEntry
}

// SystemPrompt returns the extraction instructions.
func SystemPrompt() string {
	return systemPrompt
}

// BuildUserPrompt renders the catalog hints followed by the CV text.
func BuildUserPrompt(cvText string, hints CatalogHints) string {
	var b strings.Builder

	writeCatalog(&b, "Skill catalog (skill_id: name)", hints.Skills)
	writeCatalog(&b, "Role catalog (id_role: name)", hints.Roles)

	b.WriteString("CV text:\n")
	b.WriteString("<<<\n")
	b.WriteString(strings.TrimSpace(cvText))
	b.WriteString("\n>>>\n")
	return b.String()
}

func writeCatalog(b *strings.Builder, title string, entries []CatalogEntry) {
	if len(entries) == 0 {
		return
	}
	b.WriteString(title)
	b.WriteString(":\n")
	for _, e := range entries {
		fmt.Fprintf(b, "%d: %s\n", e.ID, e.Name)
	}
	b.WriteString("\n")
}
