package lexicon

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/ashureev/sidekick/internal/domain"
)

// Target receives lexicon tables. *classifier.Classifier satisfies it.
type Target interface {
	SetGarbledTerms(dict map[string]string)
	SetNPCCache(entries []*domain.NPCCacheEntry)
	SetSceneIndex(entries []*domain.SceneIndexEntry)
	SetNPCCacheStatus(s domain.CacheStatus)
	SetHesitationKeywords(keywords []string)
	NPCCache() []domain.NPCCacheEntry
	SceneIndex() []domain.SceneIndexEntry
	MarkWikiFresh()
}

// Controller builds the classifier's lookup tables from the lexicon file.
type Controller struct {
	mu     sync.Mutex
	path   string
	target Target
	logger *slog.Logger
}

var errUnbound = errors.New("lexicon controller has no target")

// NewController creates a controller for the lexicon at path. The target is
// attached with Bind, since the classifier itself takes the controller as its
// cache source.
func NewController(path string, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{path: path, logger: logger}
}

// Bind sets the target that receives the tables.
func (c *Controller) Bind(target Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = target
}

// Build loads the lexicon and installs every table. NPC and scene served
// flags already set on the target survive the rebuild.
func (c *Controller) Build() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		return errUnbound
	}

	c.target.SetNPCCacheStatus(domain.CacheBuilding)
	camp, err := Load(c.path)
	if err != nil {
		c.target.SetNPCCacheStatus(domain.CacheFailed)
		c.logger.Error("[LEXICON] Cache build failed", "path", c.path, "error", err)
		return err
	}
	c.apply(camp)
	return nil
}

// RefreshNPCCache rebuilds the tables; failures are logged.
func (c *Controller) RefreshNPCCache() {
	_ = c.Build()
}

// Apply installs an already parsed campaign, as delivered by the Watcher.
func (c *Controller) Apply(camp *Campaign) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		c.logger.Warn("[LEXICON] Reload ignored, controller not bound", "path", c.path)
		return
	}
	c.apply(camp)
}

func (c *Controller) apply(camp *Campaign) {
	npcs := camp.NPCEntries()
	CarryServed(npcs, c.target.NPCCache())
	scenes := camp.SceneEntries()
	CarrySceneServed(scenes, c.target.SceneIndex())

	c.target.SetGarbledTerms(camp.Dictionary())
	c.target.SetNPCCache(npcs)
	c.target.SetSceneIndex(scenes)
	// An empty list falls back to the configured markers.
	c.target.SetHesitationKeywords(camp.HesitationKeywords)
	c.target.MarkWikiFresh()
	c.logger.Info("[LEXICON] Tables installed",
		"campaign", camp.Name, "npcs", len(npcs), "scenes", len(camp.Scenes))
}
