package models

import (
	"fmt"
	"strings"
)

// Category is the closed set of news sections an article can be filed under.
type Category string

const (
	CategoryDogs     Category = "dogs"
	CategoryCats     Category = "cats"
	CategoryWildlife Category = "wildlife"
	CategoryBirds    Category = "birds"
	CategoryExotic   Category = "exotic"
	CategoryGeneral  Category = "general"
)

// AllCategories returns every valid category in display order.
func AllCategories() []Category {
	return []Category{CategoryDogs, CategoryCats, CategoryWildlife, CategoryBirds, CategoryExotic, CategoryGeneral}
}

// ParseCategory maps a case-insensitive name to a Category.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range AllCategories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}
