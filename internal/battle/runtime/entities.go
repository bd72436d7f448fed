// Package runtime holds the mutable entities a battle operates on once a
// deck has been bound: RuntimeUnit, its equipped items and carried
// artifacts, and the Graveyard of units that have died.
package runtime

import (
	"github.com/google/uuid"

	"github.com/nexus-arena/core/internal/battle/field"
	"github.com/nexus-arena/core/internal/battle/stats"
)

// BuffKey identifies one active buff instance: a (caster, target, buff_id)
// triple, matching the data model's keying.
type BuffKey struct {
	CasterID uuid.UUID
	TargetID uuid.UUID
	BuffID   string
}

// ActiveBuff is the live state of one applied buff.
type ActiveBuff struct {
	Stacks     int
	ExpiresAt  int64 // absolute time_ms; 0 means no expiry
	NextTickAt int64 // absolute time_ms of the next periodic tick; 0 means none

	// AppliedDelta is the exact signed change a stat modifier made at apply
	// time, so expiry can subtract it back rather than re-deriving a
	// percent computation against a different current value.
	AppliedDelta int
}

// RuntimeItem is an equipped, instantiated piece of equipment.
type RuntimeItem struct {
	InstanceID uuid.UUID
	BaseUUID   uuid.UUID
}

// RuntimeArtifact is an instantiated deck-level artifact. Owner scopes its
// modifiers to the side that carried it into the deck.
type RuntimeArtifact struct {
	InstanceID uuid.UUID
	BaseUUID   uuid.UUID
	Owner      string
}

// RuntimeUnit is a live abnormality on the field.
type RuntimeUnit struct {
	InstanceID uuid.UUID
	BaseUUID   uuid.UUID
	Owner      string

	Stats         stats.UnitStats
	Position      field.Position
	CurrentTarget uuid.UUID

	ResonanceCurrent        int
	ResonanceMax            int
	ResonanceLockMS         int64
	ResonanceGainLockedUntilMS int64
	CastingUntilMS          int64
	PendingCast             bool

	Equipment []RuntimeItem
	Buffs     map[BuffKey]*ActiveBuff // keyed by (caster, target, buff_id) for this unit as target

	Alive bool
}

func NewUnit(instanceID, baseUUID uuid.UUID, owner string, s stats.UnitStats, resonanceMax int, resonanceLockMS int64) *RuntimeUnit {
	return &RuntimeUnit{
		InstanceID:      instanceID,
		BaseUUID:        baseUUID,
		Owner:           owner,
		Stats:           s,
		ResonanceMax:    resonanceMax,
		ResonanceLockMS: resonanceLockMS,
		Buffs:           make(map[BuffKey]*ActiveBuff),
		Alive:           true,
	}
}

func (u *RuntimeUnit) IsDead() bool {
	return u.Stats.CurrentHealth <= 0
}

// ApplyDamage subtracts amount from current health, clamping at zero and
// marking the unit dead, and returns (hp_before, hp_after) for the caller to
// record as an HpChanged entry.
func (u *RuntimeUnit) ApplyDamage(amount int) (hpBefore, hpAfter int) {
	hpBefore = u.Stats.CurrentHealth
	u.Stats.CurrentHealth -= amount
	if u.Stats.CurrentHealth <= 0 {
		u.Stats.CurrentHealth = 0
		u.Alive = false
	}
	return hpBefore, u.Stats.CurrentHealth
}

// Heal adds amount to current health, clamped to max, and returns
// (hp_before, hp_after). A dead unit cannot be healed.
func (u *RuntimeUnit) Heal(amount int) (hpBefore, hpAfter int) {
	hpBefore = u.Stats.CurrentHealth
	if !u.Alive {
		return hpBefore, hpBefore
	}
	u.Stats.CurrentHealth += amount
	if u.Stats.CurrentHealth > u.Stats.MaxHealth {
		u.Stats.CurrentHealth = u.Stats.MaxHealth
	}
	return hpBefore, u.Stats.CurrentHealth
}

// CanAct reports whether u may gain resonance, attack, cast, or be
// scheduled for any action: a dead unit cannot.
func (u *RuntimeUnit) CanAct() bool {
	return u.Alive && u.Stats.CurrentHealth > 0
}

// GainResonance adds amount to resonance subject to the gating rules: the
// unit must be alive, nowMS must be >= ResonanceGainLockedUntilMS, and nowMS
// must be >= CastingUntilMS. It clamps to [0, ResonanceMax] and, on a
// transition from below-max to exactly-max with allowAutocastWhenFull, sets
// PendingCast. Returns ok=false if the gate rejected the gain outright.
func (u *RuntimeUnit) GainResonance(amount int, nowMS int64, allowAutocastWhenFull bool) (ok bool) {
	if !u.CanAct() {
		return false
	}
	if nowMS < u.ResonanceGainLockedUntilMS || nowMS < u.CastingUntilMS {
		return false
	}
	before := u.ResonanceCurrent
	u.ResonanceCurrent += amount
	if u.ResonanceCurrent > u.ResonanceMax {
		u.ResonanceCurrent = u.ResonanceMax
	}
	if u.ResonanceCurrent < 0 {
		u.ResonanceCurrent = 0
	}
	if before < u.ResonanceMax && u.ResonanceCurrent == u.ResonanceMax && allowAutocastWhenFull {
		u.PendingCast = true
	}
	return true
}

// ResolveAutoCastStart clears PendingCast; callers invoke this when
// converting a pending cast into an AutoCastStart event.
func (u *RuntimeUnit) ResolveAutoCastStart() {
	u.PendingCast = false
}

// ResolveAutoCastEnd resets resonance to zero and locks further gain until
// nowMS + ResonanceLockMS, per the cast-resolution rule.
func (u *RuntimeUnit) ResolveAutoCastEnd(nowMS int64) {
	u.ResonanceCurrent = 0
	u.ResonanceGainLockedUntilMS = nowMS + u.ResonanceLockMS
}

// Graveyard holds immutable snapshots of units removed from the field by
// death, in death order.
type Graveyard struct {
	dead []RuntimeUnit
}

func (g *Graveyard) Add(u *RuntimeUnit) {
	snapshot := *u
	g.dead = append(g.dead, snapshot)
}

func (g *Graveyard) Units() []RuntimeUnit {
	return g.dead
}

func (g *Graveyard) Len() int {
	return len(g.dead)
}
