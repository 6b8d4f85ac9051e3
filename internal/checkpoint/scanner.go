package checkpoint

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entity identifies one tracked issue or pull request.
type Entity struct {
	Repository string // "owner/repo"
	Number     string
}

// ListTrackedRepositories walks the first two directory levels of the marker
// tree and returns the "owner/repo" strings found there, sorted. A missing
// or empty base path yields an empty slice, never an error.
func ListTrackedRepositories(base string) []string {
	var repos []string
	for _, owner := range childDirs(base) {
		for _, repo := range childDirs(filepath.Join(base, owner)) {
			repos = append(repos, owner+"/"+repo)
		}
	}
	sort.Strings(repos)
	return repos
}

// FindEntities walks the three-level marker tree and returns tracked
// entities, sorted by (repository, number). When activeOnly is set, only
// entities carrying the active marker are included. When repositories is
// non-nil, only entities whose repository string exactly matches an element
// of the set are included.
func FindEntities(base string, activeOnly bool, repositories []string) []Entity {
	var allow map[string]bool
	if repositories != nil {
		allow = make(map[string]bool, len(repositories))
		for _, r := range repositories {
			allow[r] = true
		}
	}

	store := NewStore(base)
	var entities []Entity
	for _, owner := range childDirs(base) {
		for _, repo := range childDirs(filepath.Join(base, owner)) {
			repository := owner + "/" + repo
			if allow != nil && !allow[repository] {
				continue
			}
			for _, number := range childDirs(filepath.Join(base, owner, repo)) {
				if activeOnly && !store.Active(repository, number) {
					continue
				}
				entities = append(entities, Entity{Repository: repository, Number: number})
			}
		}
	}

	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Repository != entities[j].Repository {
			return entities[i].Repository < entities[j].Repository
		}
		return entities[i].Number < entities[j].Number
	})
	return entities
}

// childDirs lists the non-hidden subdirectories of dir. Unreadable or
// missing directories yield nil.
func childDirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names
}
