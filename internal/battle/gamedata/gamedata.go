// Package gamedata describes the read-only static catalog the battle engine
// consumes. Loading the catalog from disk/network is out of scope; callers
// hand the engine an already-populated Catalog.
package gamedata

import (
	"github.com/google/uuid"

	"github.com/nexus-arena/core/internal/battle/stats"
)

// AbnormalityMetadata is the base-stat record for a unit's base_uuid.
type AbnormalityMetadata struct {
	BaseUUID         uuid.UUID
	MaxHealth        int
	Attack           int
	Defense          int
	AttackIntervalMS int64
	ResonanceStart   int
	ResonanceMax     int
	ResonanceLockMS  int64
}

// EquipmentMetadata describes one equippable item.
type EquipmentMetadata struct {
	BaseUUID            uuid.UUID
	AllowDuplicateEquip bool
	Modifiers           []stats.Modifier
	OnHit                []TriggeredEffect
}

// ArtifactMetadata describes one deck-level passive.
type ArtifactMetadata struct {
	BaseUUID  uuid.UUID
	Modifiers []stats.Modifier
}

// TriggeredEffect is a tagged variant evaluated by the effects registry; see
// internal/battle/effects for the evaluator.
type TriggeredEffect struct {
	Kind       string // "heal" | "apply_buff" | "damage_bonus"
	Flat       int
	Percent    int
	BuffID     string
	DurationMS int64
}

// Catalog is the read-only reference data a battle build consumes.
type Catalog struct {
	Abnormalities map[uuid.UUID]AbnormalityMetadata
	Equipment     map[uuid.UUID]EquipmentMetadata
	Artifacts     map[uuid.UUID]ArtifactMetadata
}

func (c *Catalog) Abnormality(id uuid.UUID) (AbnormalityMetadata, bool) {
	m, ok := c.Abnormalities[id]
	return m, ok
}

func (c *Catalog) Equip(id uuid.UUID) (EquipmentMetadata, bool) {
	m, ok := c.Equipment[id]
	return m, ok
}

func (c *Catalog) Artifact(id uuid.UUID) (ArtifactMetadata, bool) {
	m, ok := c.Artifacts[id]
	return m, ok
}
