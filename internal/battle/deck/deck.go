// Package deck implements the Deck Binder: translating two opposing
// declarative decks into self-consistent runtime entities and an initial
// field, or a fatal error.
package deck

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nexus-arena/core/internal/battle/errs"
	"github.com/nexus-arena/core/internal/battle/field"
	"github.com/nexus-arena/core/internal/battle/gamedata"
	"github.com/nexus-arena/core/internal/battle/runtime"
	"github.com/nexus-arena/core/internal/battle/stats"
	"github.com/nexus-arena/core/internal/battle/timeline"
)

// GrowthID enumerates the permanent growth stacks a unit can carry into a
// battle. Only KillStack currently has a meaningful, non-zero effect; the
// others are recognized but contribute no modifier, matching the catalog's
// current content.
type GrowthID string

const (
	GrowthKillStack        GrowthID = "kill_stack"
	GrowthPveWinStack      GrowthID = "pve_win_stack"
	GrowthQuestRewardStack GrowthID = "quest_reward_stack"
)

// killStackAttackBonus is the flat attack added per KillStack stack.
const killStackAttackBonus = 2

// UnitSpec declares one unit's placement and loadout within a deck.
type UnitSpec struct {
	BaseUUID      uuid.UUID
	X, Y          uint8
	Equipment     []uuid.UUID
	GrowthStacks  map[GrowthID]int
}

// Deck is one side's declarative build.
type Deck struct {
	Owner     string
	Units     []UnitSpec
	Artifacts []uuid.UUID
}

// Entities is the bound runtime state produced by Build.
type Entities struct {
	Units     []*runtime.RuntimeUnit
	Artifacts []runtime.RuntimeArtifact
	UnitsByID map[uuid.UUID]*runtime.RuntimeUnit
}

// Build validates and materializes playerDeck and opponentDeck against
// catalog, producing bound runtime entities, an initial field, and an
// init-caused timeline prefix (BattleStart, ArtifactSpawned*, ItemSpawned*,
// UnitSpawned*).
func Build(tl *timeline.Timeline, playerDeck, opponentDeck Deck, catalog *gamedata.Catalog, width, height uint8) (*Entities, *field.Field, error) {
	if err := checkDuplicateArtifacts(playerDeck); err != nil {
		return nil, nil, err
	}
	if err := checkDuplicateArtifacts(opponentDeck); err != nil {
		return nil, nil, err
	}

	f := field.New(width, height)
	rootCause := timeline.Root(timeline.CauseInit)

	if _, err := tl.Append(0, timeline.EventBattleStart, rootCause, timeline.BattleStartPayload{
		Width: width, Height: height,
	}); err != nil {
		return nil, nil, err
	}

	ents := &Entities{UnitsByID: make(map[uuid.UUID]*runtime.RuntimeUnit)}

	for _, d := range []Deck{playerDeck, opponentDeck} {
		for _, artifactBase := range d.Artifacts {
			if _, ok := catalog.Artifact(artifactBase); !ok {
				return nil, nil, errs.NewMissingResource(artifactBase.String())
			}
			instanceID := deriveInstanceID(artifactBase, d.Owner, len(ents.Artifacts))
			ents.Artifacts = append(ents.Artifacts, runtime.RuntimeArtifact{InstanceID: instanceID, BaseUUID: artifactBase, Owner: d.Owner})
			if _, err := tl.Append(0, timeline.EventArtifactSpawned, rootCause, timeline.ArtifactSpawnedPayload{
				Owner: d.Owner, InstanceID: instanceID, BaseUUID: artifactBase,
			}); err != nil {
				return nil, nil, err
			}
		}
	}

	var spawned []timeline.UnitSpawnedPayload
	for _, d := range []Deck{playerDeck, opponentDeck} {
		for ordinal, spec := range d.Units {
			unit, items, err := bindUnit(tl, rootCause, d, spec, ordinal, catalog, ents.Artifacts)
			if err != nil {
				return nil, nil, err
			}
			pos := field.Position{X: spec.X, Y: spec.Y}
			if err := f.Place(unit.InstanceID, pos); err != nil {
				return nil, nil, err
			}
			unit.Position = pos
			unit.Equipment = items

			ents.Units = append(ents.Units, unit)
			ents.UnitsByID[unit.InstanceID] = unit

			spawned = append(spawned, timeline.UnitSpawnedPayload{
				Owner: d.Owner, InstanceID: unit.InstanceID, BaseUUID: spec.BaseUUID, X: spec.X, Y: spec.Y,
			})
		}
	}

	// UnitSpawned entries follow every unit's ItemSpawned entries.
	for _, p := range spawned {
		if _, err := tl.Append(0, timeline.EventUnitSpawned, rootCause, p); err != nil {
			return nil, nil, err
		}
	}

	return ents, f, nil
}

func checkDuplicateArtifacts(d Deck) error {
	seen := make(map[uuid.UUID]bool, len(d.Artifacts))
	for _, a := range d.Artifacts {
		if seen[a] {
			return errs.NewInvalidAction(fmt.Sprintf("duplicate artifact %s in deck for %s", a, d.Owner))
		}
		seen[a] = true
	}
	return nil
}

func bindUnit(tl *timeline.Timeline, rootCause timeline.Cause, d Deck, spec UnitSpec, ordinal int, catalog *gamedata.Catalog, artifacts []runtime.RuntimeArtifact) (*runtime.RuntimeUnit, []runtime.RuntimeItem, error) {
	base, ok := catalog.Abnormality(spec.BaseUUID)
	if !ok {
		return nil, nil, errs.NewMissingResource(spec.BaseUUID.String())
	}

	// (1) base stats.
	s := stats.WithValues(base.MaxHealth, base.Attack, base.Defense, base.AttackIntervalMS)

	// (2) permanent growth stacks. Only KillStack contributes a modifier.
	if stacks := spec.GrowthStacks[GrowthKillStack]; stacks > 0 {
		s.AddAttack(stacks * killStackAttackBonus)
	}

	// (3) equipment modifiers, in declared order. Duplicate equipment is
	// rejected unless the catalog record allows it.
	seenEquip := make(map[uuid.UUID]bool, len(spec.Equipment))
	var items []runtime.RuntimeItem
	instanceID := deriveInstanceID(spec.BaseUUID, d.Owner, ordinal)

	for _, equipBase := range spec.Equipment {
		meta, ok := catalog.Equip(equipBase)
		if !ok {
			return nil, nil, errs.NewMissingResource(equipBase.String())
		}
		if seenEquip[equipBase] && !meta.AllowDuplicateEquip {
			return nil, nil, errs.NewInvalidAction(fmt.Sprintf("duplicate equipment %s on unit %s", equipBase, instanceID))
		}
		seenEquip[equipBase] = true

		s.ApplyModifiers(meta.Modifiers)
		itemInstanceID := deriveInstanceID(equipBase, d.Owner, ordinal*1000+len(items))
		items = append(items, runtime.RuntimeItem{InstanceID: itemInstanceID, BaseUUID: equipBase})
		if _, err := tl.Append(0, timeline.EventItemSpawned, rootCause, timeline.ItemSpawnedPayload{
			Owner: d.Owner, InstanceID: itemInstanceID, BaseUUID: equipBase, HolderID: instanceID,
		}); err != nil {
			return nil, nil, err
		}
	}

	// (4) artifact modifiers, owner-scoped, in deck declaration order. Only
	// artifacts carried by d's own side apply here; the other side's
	// artifacts are in the same ents.Artifacts slice but must not leak
	// across the field.
	for _, a := range artifacts {
		if a.Owner != d.Owner {
			continue
		}
		if meta, ok := catalog.Artifact(a.BaseUUID); ok {
			s.ApplyModifiers(meta.Modifiers)
		}
	}

	// Resync current health to the fully-modified max health: growth,
	// equipment, and artifact modifiers may have changed MaxHealth since
	// stats.WithValues set CurrentHealth against the base value.
	s.CurrentHealth = s.MaxHealth

	if s.AttackIntervalMS <= 0 {
		return nil, nil, errs.NewInvalidUnitStats(fmt.Sprintf("unit %s has non-positive attack_interval_ms after modifiers", instanceID))
	}
	if s.MaxHealth <= 0 {
		return nil, nil, errs.NewInvalidUnitStats(fmt.Sprintf("unit %s has non-positive max_health after modifiers", instanceID))
	}

	unit := runtime.NewUnit(instanceID, spec.BaseUUID, d.Owner, s, base.ResonanceMax, base.ResonanceLockMS)
	unit.ResonanceCurrent = base.ResonanceStart
	return unit, items, nil
}

// deriveInstanceID deterministically derives an instance_id from
// (base_uuid, side, ordinal), matching the uniqueness-within-battle
// invariant without needing a random source.
func deriveInstanceID(baseUUID uuid.UUID, owner string, ordinal int) uuid.UUID {
	name := fmt.Sprintf("%s:%s:%d", baseUUID, owner, ordinal)
	return uuid.NewSHA1(baseUUID, []byte(name))
}
