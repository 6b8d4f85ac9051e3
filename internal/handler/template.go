package handler

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/TomzxCode/github-monitor/internal/event"
)

// templateName maps a subject to the template file looked up for it: the
// full subject string plus ".md", so existing template directories keyed by
// subject keep working. The deprecated process alias shares the updated
// template.
func templateName(subject event.Subject) string {
	s := subject
	if s == event.SubjectIssueProcess {
		s = event.SubjectIssueUpdated
	}
	return string(s) + ".md"
}

// resolveTemplate finds the template for a repository and subject by
// three-level precedence: repository-specific, then owner default, then
// global default. The first level where the file exists wins — even when the
// file is empty, which downstream treats as an explicit "do nothing" for
// that level. Returns "" when no level has the file.
func resolveTemplate(templatesDir, repository string, subject event.Subject) string {
	if templatesDir == "" {
		return ""
	}
	name := templateName(subject)

	candidates := []string{
		filepath.Join(templatesDir, filepath.FromSlash(repository), name),
	}
	if owner, _, ok := strings.Cut(repository, "/"); ok {
		candidates = append(candidates, filepath.Join(templatesDir, owner, ".default", name))
	}
	candidates = append(candidates, filepath.Join(templatesDir, ".default", name))

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
