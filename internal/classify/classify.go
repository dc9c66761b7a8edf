// Package classify files articles into categories and derives slugs and
// reading-time estimates from their text.
package classify

import (
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"vetrefill/jobs/internal/models"
)

// keywordRule pairs a category with the substrings that select it.
type keywordRule struct {
	Category models.Category
	Keywords []string
}

// categoryTable is evaluated top to bottom; the first rule with any match wins.
var categoryTable = []keywordRule{
	{models.CategoryDogs, []string{"dog", "puppy", "canine", "labrador", "golden retriever", "poodle", "bulldog", "husky", "dachshund", "beagle", "k9", "hound"}},
	{models.CategoryCats, []string{"cat", "kitten", "feline", "tabby", "siamese", "persian", "maine coon", "ragdoll", "meow"}},
	{models.CategoryWildlife, []string{"wild", "wildlife", "elephant", "lion", "tiger", "bear", "wolf", "conservation", "habitat", "endangered", "species", "jungle", "forest", "safari", "cheetah", "leopard", "rhino", "hippo", "giraffe", "zebra", "whale", "shark", "dolphin", "seal"}},
	{models.CategoryBirds, []string{"bird", "parrot", "eagle", "owl", "penguin", "falcon", "hawk", "avian", "robin", "sparrow", "pigeon", "flamingo", "pelican", "hummingbird", "nest", "feather", "wing", "beak"}},
	{models.CategoryExotic, []string{"exotic", "reptile", "snake", "lizard", "tortoise", "turtle", "gecko", "iguana", "ferret", "rabbit", "hamster", "guinea pig", "chinchilla", "hedgehog"}},
}

// Classify returns the category of the first table rule whose keywords occur
// anywhere in the lower-cased text, or general when none do.
func Classify(title, snippet, sourceName string) models.Category {
	text := strings.ToLower(title + " " + snippet + " " + sourceName)
	for _, rule := range categoryTable {
		for _, kw := range rule.Keywords {
			if strings.Contains(text, kw) {
				return rule.Category
			}
		}
	}
	return models.CategoryGeneral
}

const (
	// MaxSlugBase bounds the title-derived part of a slug.
	MaxSlugBase = 70

	wordsPerMinute = 200
)

var (
	slugDisallowed = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaces     = regexp.MustCompile(`\s+`)
	slugDashes     = regexp.MustCompile(`-+`)
)

// Slug derives a URL-safe identifier from title with a base-36 millisecond
// suffix taken from now.
func Slug(title string, now time.Time) string {
	base := strings.ToLower(title)
	base = slugDisallowed.ReplaceAllString(base, "")
	base = slugSpaces.ReplaceAllString(base, "-")
	base = slugDashes.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	if len(base) > MaxSlugBase {
		base = strings.TrimRight(base[:MaxSlugBase], "-")
	}

	suffix := strconv.FormatInt(now.UnixMilli(), 36)
	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}

var plainText = bluemonday.StrictPolicy()

// PlainText strips all markup from s, decodes entities and collapses whitespace.
func PlainText(s string) string {
	stripped := html.UnescapeString(plainText.Sanitize(s))
	return strings.Join(strings.Fields(stripped), " ")
}

// ReadingTime estimates minutes to read content at a fixed words-per-minute
// rate. It never returns less than 1.
func ReadingTime(content string) int {
	words := len(strings.Fields(PlainText(content)))
	minutes := int(math.Ceil(float64(words) / wordsPerMinute))
	return max(1, minutes)
}
