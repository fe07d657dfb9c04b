package model

import "strings"

// IngredientList is an ordered list of ingredient names in label reading
// order. Duplicates are preserved.
type IngredientList []string

// Joined returns the ingredients as a comma-separated string.
func (l IngredientList) Joined() string {
	return strings.Join(l, ", ")
}
