package domain

import "time"

// NPCCacheEntry is one externally built NPC record. Detection only ever flips
// Served to true and stamps ServedAt; the GM "/npc reset" override clears it.
type NPCCacheEntry struct {
	Name     string    `json:"name" yaml:"name"`
	Aliases  []string  `json:"aliases" yaml:"aliases"`
	Served   bool      `json:"served" yaml:"-"`
	ServedAt time.Time `json:"served_at,omitempty" yaml:"-"`
}

// Terms returns the canonical name followed by its aliases.
func (e *NPCCacheEntry) Terms() []string {
	return append([]string{e.Name}, e.Aliases...)
}

// MarkServed flips the served flag once. It reports whether this call changed it.
func (e *NPCCacheEntry) MarkServed(at time.Time) bool {
	if e.Served {
		return false
	}
	e.Served = true
	e.ServedAt = at
	return true
}

// SceneIndexEntry is one externally built scene record keyed by keywords.
type SceneIndexEntry struct {
	Name     string    `json:"name" yaml:"name"`
	Keywords []string  `json:"keywords" yaml:"keywords"`
	Served   bool      `json:"served" yaml:"-"`
	ServedAt time.Time `json:"served_at,omitempty" yaml:"-"`
}

// MarkServed flips the served flag once. It reports whether this call changed it.
func (e *SceneIndexEntry) MarkServed(at time.Time) bool {
	if e.Served {
		return false
	}
	e.Served = true
	e.ServedAt = at
	return true
}

// CacheStatus is the build status of an externally built lookup table.
type CacheStatus string

const (
	CacheUnbuilt  CacheStatus = ""
	CacheBuilding CacheStatus = "building"
	CacheReady    CacheStatus = "ready"
	CacheFailed   CacheStatus = "failed"
)
