package classify

import (
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vetrefill/jobs/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		snippet string
		source  string
		want    models.Category
	}{
		{"dog keyword", "Rescued Puppy Finds Home", "", "", models.CategoryDogs},
		{"cat keyword", "Kitten learns to climb", "", "", models.CategoryCats},
		{"wildlife in snippet", "Good news", "Elephant herd returns to the reserve", "", models.CategoryWildlife},
		{"birds", "Penguin chicks hatch", "", "", models.CategoryBirds},
		{"exotic", "Caring for your hamster", "", "", models.CategoryExotic},
		{"source name counts", "A heartwarming story", "", "Bird Watching Daily", models.CategoryBirds},
		{"case insensitive", "HUSKY PACK", "", "", models.CategoryDogs},
		{"nothing matches", "Quarterly report", "Numbers went up", "", models.CategoryGeneral},
		{"empty input", "", "", "", models.CategoryGeneral},
		// "dog" and "cat" both occur; dogs is earlier in the table
		{"table order breaks ties", "Cat and dog become friends", "", "", models.CategoryDogs},
		// "tiger" is wildlife, "nest" is birds: wildlife comes first
		{"first matching rule wins", "Tiger cubs leave the nest", "", "", models.CategoryWildlife},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.title, tt.snippet, tt.source))
		})
	}
}

func TestClassifyIsDeterministicAndClosed(t *testing.T) {
	valid := map[models.Category]bool{}
	for _, c := range models.AllCategories() {
		valid[c] = true
	}

	inputs := []string{"", "dog", "whale song", "gecko", "random words", "Ünïcödé ✓", "<p>owl</p>"}
	for _, in := range inputs {
		first := Classify(in, in, in)
		assert.True(t, valid[first], "category %q for %q not in enum", first, in)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, Classify(in, in, in))
		}
	}
}

var slugShape = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

func TestSlug(t *testing.T) {
	now := time.UnixMilli(1760000000000)
	suffix := "-" + strconv.FormatInt(now.UnixMilli(), 36)

	assert.Equal(t, "rescued-puppy-finds-a-home"+suffix, Slug("Rescued Puppy Finds a Home!", now))
	assert.Equal(t, "cats-dogs-living-together"+suffix, Slug("  Cats & Dogs --- living   together ", now))
	assert.Equal(t, "caf-owls"+suffix, Slug("Café Owls", now))
	assert.Equal(t, strings.TrimPrefix(suffix, "-"), Slug("!!!", now))
}

func TestSlugShapeAndLength(t *testing.T) {
	now := time.Now()
	titles := []string{
		"Hello World",
		"-leading and trailing-",
		strings.Repeat("word ", 40),
		strings.Repeat("a", 69) + " b",
		"Émeu & Ñandú: flightless birds?",
		"",
		"🐶🐱",
	}
	suffixLen := len(strconv.FormatInt(now.UnixMilli(), 36)) + 1

	for _, title := range titles {
		s := Slug(title, now)
		assert.Regexp(t, slugShape, s, "title %q", title)
		assert.LessOrEqual(t, len(s), MaxSlugBase+suffixLen, "title %q", title)
	}
}

func TestReadingTime(t *testing.T) {
	assert.Equal(t, 1, ReadingTime("one"))
	assert.Equal(t, 1, ReadingTime("<p></p>"))
	assert.Equal(t, 1, ReadingTime(strings.Repeat("word ", 200)))
	assert.Equal(t, 2, ReadingTime(strings.Repeat("word ", 201)))
	assert.Equal(t, 3, ReadingTime("<h2>Title</h2><p>"+strings.Repeat("word ", 450)+"</p>"))
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "Hello & welcome to the zoo", PlainText("<p>Hello &amp; <b>welcome</b></p>\n\n<p>to the   zoo</p>"))
	assert.Equal(t, "", PlainText(""))
}
