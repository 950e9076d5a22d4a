package filter

import "strings"

// PrefilterHints is a cheap, structural pre-check applied before
// evaluating the full filter tree, per the GLOSSARY definition of
// "Prefilter".
type PrefilterHints struct {
	IncludeFolders []string // lower-cased folder names/prefixes to restrict to
	ExcludeFolders []string
}

// Allows reports whether folder (already lower-cased by the caller) may
// contain matching items, given the hints. An empty IncludeFolders means
// no restriction from inclusion.
func (h PrefilterHints) Allows(folder string) bool {
	folder = strings.ToLower(folder)
	for _, ex := range h.ExcludeFolders {
		if folder == ex || strings.HasPrefix(folder, ex) {
			return false
		}
	}
	if len(h.IncludeFolders) == 0 {
		return true
	}
	for _, inc := range h.IncludeFolders {
		if folder == inc || strings.HasPrefix(folder, inc) {
			return true
		}
	}
	return false
}

// ExtractPrefilter derives folder hints from doc's top-level expressions
// when safely extractable: all branches are folder-restrictive under
// `and`, or all branches derive a restrictive set under `or`. Operator-
// supplied include/exclude lists are merged in regardless of whether
// extraction succeeded.
func ExtractPrefilter(doc Document, operatorInclude, operatorExclude []string) PrefilterHints {
	hints := PrefilterHints{
		IncludeFolders: lower(operatorInclude),
		ExcludeFolders: lower(operatorExclude),
	}

	for _, n := range doc.Expressions {
		if folders, ok := extractFolderSet(n); ok {
			hints.IncludeFolders = append(hints.IncludeFolders, folders...)
		}
	}
	return hints
}

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// extractFolderSet returns the set of folder names/prefixes this node
// structurally restricts to, if n is "folder-restrictive": a bare
// folder_exact/folder_prefix leaf, an `and` where at least one branch is
// restrictive, or an `or` where every branch is restrictive.
func extractFolderSet(n node) ([]string, bool) {
	if n.FolderExact != "" {
		return []string{strings.ToLower(n.FolderExact)}, true
	}
	if n.FolderPrefix != "" {
		return []string{strings.ToLower(n.FolderPrefix)}, true
	}

	if len(n.And) > 0 {
		for _, child := range n.And {
			if folders, ok := extractFolderSet(child); ok {
				return folders, true
			}
		}
		return nil, false
	}

	if len(n.Or) > 0 {
		var all []string
		for _, child := range n.Or {
			folders, ok := extractFolderSet(child)
			if !ok {
				return nil, false
			}
			all = append(all, folders...)
		}
		return all, true
	}

	return nil, false
}
