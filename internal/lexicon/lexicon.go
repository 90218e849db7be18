// Package lexicon loads the campaign vocabulary: speech-to-text garble
// dictionary, NPC names and aliases, scene keywords and hesitation phrases.
package lexicon

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/sidekick/internal/domain"
)

// ErrEmptyPath is returned when no lexicon file is configured.
var ErrEmptyPath = errors.New("lexicon: path is empty")

// Campaign is the parsed lexicon file.
//
//	name: Ashes of Veltin
//	garbled_terms:
//	  Daokresh: [dow chris, dao crash]
//	npcs:
//	  - name: Daokresh
//	    aliases: [kresh]
//	scenes:
//	  - name: Smuggler Docks
//	    keywords: [pier, lantern, crates]
//	hesitation_keywords: [uh, um]
type Campaign struct {
	Name               string                   `yaml:"name"`
	GarbledTerms       map[string][]string      `yaml:"garbled_terms"`
	NPCs               []domain.NPCCacheEntry   `yaml:"npcs"`
	Scenes             []domain.SceneIndexEntry `yaml:"scenes"`
	HesitationKeywords []string                 `yaml:"hesitation_keywords"`
}

// Load reads and parses a lexicon file.
func Load(path string) (*Campaign, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("lexicon: %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes lexicon YAML and validates it.
func Parse(data []byte) (*Campaign, error) {
	var c Campaign
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	for i, npc := range c.NPCs {
		if strings.TrimSpace(npc.Name) == "" {
			return nil, fmt.Errorf("npc %d has no name", i)
		}
	}
	for i, scene := range c.Scenes {
		if strings.TrimSpace(scene.Name) == "" {
			return nil, fmt.Errorf("scene %d has no name", i)
		}
	}
	return &c, nil
}

// Dictionary flattens the canonical -> variants table into variant -> canonical.
func (c *Campaign) Dictionary() map[string]string {
	out := make(map[string]string)
	for canonical, variants := range c.GarbledTerms {
		canonical = strings.TrimSpace(canonical)
		if canonical == "" {
			continue
		}
		out[strings.ToLower(canonical)] = canonical
		for _, v := range variants {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				out[v] = canonical
			}
		}
	}
	return out
}

// NPCEntries returns fresh NPC cache entries, all unserved.
func (c *Campaign) NPCEntries() []*domain.NPCCacheEntry {
	out := make([]*domain.NPCCacheEntry, 0, len(c.NPCs))
	for _, npc := range c.NPCs {
		out = append(out, &domain.NPCCacheEntry{
			Name:    npc.Name,
			Aliases: append([]string(nil), npc.Aliases...),
		})
	}
	return out
}

// SceneEntries returns fresh scene index entries, all unserved.
func (c *Campaign) SceneEntries() []*domain.SceneIndexEntry {
	out := make([]*domain.SceneIndexEntry, 0, len(c.Scenes))
	for _, s := range c.Scenes {
		out = append(out, &domain.SceneIndexEntry{
			Name:     s.Name,
			Keywords: append([]string(nil), s.Keywords...),
		})
	}
	return out
}

// CarryServed copies served flags from prior entries onto fresh ones by
// case-insensitive name, so a rebuild never re-announces an NPC.
func CarryServed(fresh []*domain.NPCCacheEntry, prior []domain.NPCCacheEntry) {
	served := make(map[string]domain.NPCCacheEntry, len(prior))
	for _, p := range prior {
		if p.Served {
			served[strings.ToLower(p.Name)] = p
		}
	}
	for _, e := range fresh {
		if p, ok := served[strings.ToLower(e.Name)]; ok {
			e.MarkServed(p.ServedAt)
		}
	}
}

// CarrySceneServed does the same for scenes, so a reload never re-announces a
// scene that was already detected.
func CarrySceneServed(fresh []*domain.SceneIndexEntry, prior []domain.SceneIndexEntry) {
	served := make(map[string]domain.SceneIndexEntry, len(prior))
	for _, p := range prior {
		if p.Served {
			served[strings.ToLower(p.Name)] = p
		}
	}
	for _, e := range fresh {
		if p, ok := served[strings.ToLower(e.Name)]; ok {
			e.MarkServed(p.ServedAt)
		}
	}
}
