// Package sources resolves which feeds the news run reads.
package sources

import (
	"context"
	"fmt"

	"vetrefill/jobs/internal/models"
)

var defaults = []models.FeedSource{
	{URL: "https://feeds.bbci.co.uk/news/science_and_environment/rss.xml", Name: "BBC Science & Environment", DefaultCategory: models.CategoryWildlife, Enabled: true},
	{URL: "https://www.thedodo.com/rss", Name: "The Dodo", DefaultCategory: models.CategoryGeneral, Enabled: true},
	{URL: "https://www.petmd.com/rss.xml", Name: "PetMD", DefaultCategory: models.CategoryDogs, Enabled: true},
	{URL: "https://www.akc.org/rss/", Name: "American Kennel Club", DefaultCategory: models.CategoryDogs, Enabled: true},
	{URL: "https://iheartcats.com/feed/", Name: "iHeartCats", DefaultCategory: models.CategoryCats, Enabled: true},
	{URL: "https://www.birdwatchingdaily.com/feed/", Name: "Bird Watching Daily", DefaultCategory: models.CategoryBirds, Enabled: true},
	{URL: "https://www.catster.com/feed/", Name: "Catster", DefaultCategory: models.CategoryCats, Enabled: true},
	{URL: "https://www.dogster.com/feed/", Name: "Dogster", DefaultCategory: models.CategoryDogs, Enabled: true},
}

// Defaults returns a copy of the built-in source list.
func Defaults() []models.FeedSource {
	out := make([]models.FeedSource, len(defaults))
	copy(out, defaults)
	return out
}

// Store lists persisted feed sources.
type Store interface {
	List(ctx context.Context) ([]models.FeedSource, error)
}

// Registry serves the persisted sources, or the built-in list while none
// have been imported.
type Registry struct {
	store Store
}

// NewRegistry creates a registry backed by store. A nil store always serves
// the built-in list.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// All returns every source, enabled or not.
func (r *Registry) All(ctx context.Context) ([]models.FeedSource, error) {
	if r.store == nil {
		return Defaults(), nil
	}
	list, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load source registry: %w", err)
	}
	if len(list) == 0 {
		return Defaults(), nil
	}
	return list, nil
}

// Enabled returns the sources a run should fetch.
func (r *Registry) Enabled(ctx context.Context) ([]models.FeedSource, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.FeedSource, 0, len(all))
	for _, src := range all {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out, nil
}
