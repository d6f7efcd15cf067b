package netcfg

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/tpodg/ipsettle/internal/strutil"
)

//go:embed scripts/*.sh.tmpl
var scriptsFS embed.FS

var scriptTemplates = template.Must(template.New("netcfg").Funcs(template.FuncMap{
	"shellEscape": strutil.ShellEscape,
	"join":        strings.Join,
}).Option("missingkey=error").ParseFS(scriptsFS, "scripts/*.sh.tmpl"))

// heredocMarker terminates every file body written by a script.
const heredocMarker = "IPSETTLE_EOF"

func renderScript(name string, data any) (string, error) {
	var buf strings.Builder
	if err := scriptTemplates.ExecuteTemplate(&buf, name+".sh.tmpl", data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

// fileWrite is the template data for scripts that replace a whole file.
type fileWrite struct {
	Path    string
	Content string
	Marker  string
}

func newFileWrite(path, content string) (fileWrite, error) {
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	for _, line := range strings.Split(content, "\n") {
		if line == heredocMarker {
			return fileWrite{}, fmt.Errorf("content for %s contains the heredoc marker", path)
		}
	}
	return fileWrite{Path: path, Content: content, Marker: heredocMarker}, nil
}
