package ports

// TemplateEngine renders manifest templates before parsing.
type TemplateEngine interface {
	// Render resolves template placeholders in raw with vars.
	Render(raw []byte, vars map[string]any) ([]byte, error)
}
