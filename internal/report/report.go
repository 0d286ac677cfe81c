// Package report serializes scraped posts and their comment forests to
// JSON, YAML or a standalone HTML page.
package report

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TheUltimateAbsol/technews/internal/models"
	"github.com/TheUltimateAbsol/technews/internal/text"
)

// Format names an output encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHTML Format = "html"
)

// bodyLimit is how much post text the HTML table shows
const bodyLimit = 500

//go:embed templates/report.html.tmpl
var templateFS embed.FS

var htmlTemplate = template.Must(template.New("report.html.tmpl").Funcs(template.FuncMap{
	"truncate": text.Truncate,
	"score": func(s *float64) string {
		return strconv.FormatFloat(*s, 'f', -1, 64)
	},
}).ParseFS(templateFS, "templates/report.html.tmpl"))

// ParseFormat accepts json, yaml/yml and html/htm
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "html", "htm":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unsupported report format %q", s)
}

// Write encodes posts to w
func Write(w io.Writer, format Format, posts []*models.Post) error {
	if posts == nil {
		posts = []*models.Post{}
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		return enc.Encode(posts)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(posts); err != nil {
			return err
		}
		return enc.Close()
	case FormatHTML:
		return htmlTemplate.Execute(w, struct {
			Title     string
			Generated string
			BodyLimit int
			Posts     []*models.Post
		}{
			Title:     "Hot Posts Report",
			Generated: time.Now().UTC().Format("2006-01-02 15:04:05 UTC"),
			BodyLimit: bodyLimit,
			Posts:     posts,
		})
	}
	return fmt.Errorf("unsupported report format %q", format)
}

// WriteFile writes posts to path. An empty format is taken from the file
// extension.
func WriteFile(path string, format Format, posts []*models.Post) error {
	if format == "" {
		var err error
		if format, err = ParseFormat(filepath.Ext(path)); err != nil {
			return err
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := Write(f, format, posts); err != nil {
		f.Close()
		return fmt.Errorf("write %s report: %w", format, err)
	}
	return f.Close()
}
