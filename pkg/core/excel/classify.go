package excel

import (
	"strings"

	"deal_intake/pkg/core/normalize"
)

// ClassifySheets binds each role to the first sheet, in workbook order, whose
// name matches one of the role's variants. Roles without a match are absent.
func ClassifySheets(names []string) map[Role]string {
	out := make(map[Role]string)
	for _, role := range SearchOrder {
		for _, name := range names {
			if MatchesRole(name, role) {
				out[role] = name
				break
			}
		}
	}
	return out
}

// MatchesRole reports whether a sheet name is equal, fuzzy-similar, or a
// substring match (either direction) to any variant of role.
func MatchesRole(sheetName string, role Role) bool {
	name := normalize.NormalizeLabel(sheetName)
	if name == "" {
		return false
	}
	for _, variant := range SheetVariants[role] {
		if name == variant {
			return true
		}
		if normalize.Similarity(name, variant) >= SheetSimilarityThreshold {
			return true
		}
		if strings.Contains(name, variant) || strings.Contains(variant, name) {
			return true
		}
	}
	return false
}

// RoleOf returns the first role a sheet name matches.
func RoleOf(sheetName string) (Role, bool) {
	for _, role := range SearchOrder {
		if MatchesRole(sheetName, role) {
			return role, true
		}
	}
	return "", false
}
