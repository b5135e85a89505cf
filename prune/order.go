package prune

import "github.com/biops-tools/tableau-ad-sync/tableau"

// parentFirst orders projects so every parent precedes its children, by
// repeatedly promoting projects whose parent has already been placed. Roots
// are projects without a parent. Projects whose parent is invisible to the
// session are appended at the end as-is so the sweep still reaches them.
func parentFirst(projects []tableau.Project) []tableau.Project {
	placed := make(map[string]bool, len(projects))
	ordered := make([]tableau.Project, 0, len(projects))
	remaining := projects
	for len(remaining) > 0 {
		var next []tableau.Project
		progressed := false
		for _, project := range remaining {
			if project.ParentProjectID == "" || placed[project.ParentProjectID] {
				ordered = append(ordered, project)
				placed[project.ID] = true
				progressed = true
			} else {
				next = append(next, project)
			}
		}
		if !progressed {
			ordered = append(ordered, next...)
			break
		}
		remaining = next
	}
	return ordered
}
