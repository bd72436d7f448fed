// Package buffs implements the buff engine: applying, ticking, and expiring
// timed modifiers on a RuntimeUnit, and emitting the corresponding timeline
// entries.
package buffs

import (
	"github.com/google/uuid"

	"github.com/nexus-arena/core/internal/battle/runtime"
	"github.com/nexus-arena/core/internal/battle/stats"
	"github.com/nexus-arena/core/internal/battle/timeline"
)

// StackPolicy governs what happens when a buff is applied to a target that
// already carries one with the same buff_id.
type StackPolicy string

const (
	Replace         StackPolicy = "replace"
	AddStack        StackPolicy = "add_stack"
	IgnoreIfPresent StackPolicy = "ignore_if_present"
)

// Definition is the static description of a buff the engine can apply. A
// StatModifier, if set, is reverted precisely on expiry; a PeriodMS > 0
// makes the buff tick.
type Definition struct {
	BuffID       string
	Policy       StackPolicy
	DurationMS   int64
	MaxStacks    int
	PeriodMS     int64 // 0 means no periodic tick
	TickDamage   int   // applied as HpChanged(reason=command) on each tick
	TickHeal     int
	StatModifier *stats.Modifier // reverted on expiry
}

// Apply applies def to target at nowMS, honoring def.Policy, and appends the
// corresponding BuffApplied entry. casterID is part of the (caster, target,
// buff_id) key the data model specifies, so the same buff_id cast by two
// different casters on the same target is tracked as two independent
// instances rather than colliding into one.
func Apply(tl *timeline.Timeline, cause timeline.Cause, nowMS int64, casterID uuid.UUID, target *runtime.RuntimeUnit, def Definition) error {
	key := runtime.BuffKey{CasterID: casterID, TargetID: target.InstanceID, BuffID: def.BuffID}
	existing, present := target.Buffs[key]

	if present {
		switch def.Policy {
		case IgnoreIfPresent:
			return nil
		case Replace:
			existing.Stacks = 1
			existing.ExpiresAt = expiryAt(nowMS, def.DurationMS)
			existing.NextTickAt = nextTickAt(nowMS, def.PeriodMS)
		case AddStack:
			if def.MaxStacks <= 0 || existing.Stacks < def.MaxStacks {
				existing.Stacks++
			}
			existing.ExpiresAt = expiryAt(nowMS, def.DurationMS)
			existing.NextTickAt = nextTickAt(nowMS, def.PeriodMS)
		}
	} else {
		target.Buffs[key] = &runtime.ActiveBuff{
			Stacks:     1,
			ExpiresAt:  expiryAt(nowMS, def.DurationMS),
			NextTickAt: nextTickAt(nowMS, def.PeriodMS),
		}
		if def.StatModifier != nil {
			if err := applyAndRecordModifier(tl, cause, nowMS, target, key, *def.StatModifier); err != nil {
				return err
			}
		}
	}

	b := target.Buffs[key]
	_, err := tl.Append(nowMS, timeline.EventBuffApplied, cause, timeline.BuffAppliedPayload{
		CasterID:  casterID,
		TargetID:  target.InstanceID,
		BuffID:    def.BuffID,
		Stacks:    b.Stacks,
		ExpiresAt: b.ExpiresAt,
	})
	return err
}

func expiryAt(nowMS, durationMS int64) int64 {
	if durationMS <= 0 {
		return 0
	}
	return nowMS + durationMS
}

func nextTickAt(nowMS, periodMS int64) int64 {
	if periodMS <= 0 {
		return 0
	}
	return nowMS + periodMS
}

// Tick applies def's periodic payload to target as cause-linked HpChanged
// entries and reschedules the buff's next tick. Ticks on a dead target are
// dropped silently and produce no entry. casterID selects which (caster,
// target, buff_id) instance to tick.
func Tick(tl *timeline.Timeline, cause timeline.Cause, nowMS int64, casterID uuid.UUID, target *runtime.RuntimeUnit, def Definition) error {
	if !target.Alive {
		return nil
	}
	key := runtime.BuffKey{CasterID: casterID, TargetID: target.InstanceID, BuffID: def.BuffID}
	b, ok := target.Buffs[key]
	if !ok {
		return nil
	}
	if _, err := tl.Append(nowMS, timeline.EventBuffTick, cause, timeline.BuffTickPayload{
		CasterID: casterID,
		TargetID: target.InstanceID,
		BuffID:   def.BuffID,
	}); err != nil {
		return err
	}

	delta := def.TickHeal - def.TickDamage
	if delta != 0 {
		var before, after int
		if delta > 0 {
			before, after = target.Heal(delta)
		} else {
			before, after = target.ApplyDamage(-delta)
		}
		if _, err := tl.Append(nowMS, timeline.EventHpChanged, cause, timeline.HpChangedPayload{
			InstanceID: target.InstanceID,
			Reason:     timeline.HpChangeCommand,
			Delta:      after - before,
			HpBefore:   before,
			HpAfter:    after,
		}); err != nil {
			return err
		}
	}

	if b.ExpiresAt == 0 || nowMS+def.PeriodMS < b.ExpiresAt {
		b.NextTickAt = nextTickAt(nowMS, def.PeriodMS)
	}
	return nil
}

// ExpireDue removes every buff instance on target whose ExpiresAt has passed
// nowMS, regardless of caster, reverting any stat modifier precisely and
// appending a BuffExpired entry for each, returning the expired buff IDs.
// defs supplies the Definition each active buff_id was applied with, so its
// StatModifier can be undone.
func ExpireDue(tl *timeline.Timeline, cause timeline.Cause, nowMS int64, target *runtime.RuntimeUnit, defs map[string]Definition) ([]string, error) {
	var expiredKeys []runtime.BuffKey
	deltas := make(map[runtime.BuffKey]int, len(target.Buffs))
	for key, b := range target.Buffs {
		if b.ExpiresAt == 0 || b.ExpiresAt > nowMS {
			continue
		}
		expiredKeys = append(expiredKeys, key)
		deltas[key] = b.AppliedDelta
	}

	var expired []string
	for _, key := range expiredKeys {
		delete(target.Buffs, key)
		if def, ok := defs[key.BuffID]; ok && def.StatModifier != nil {
			if err := revertModifier(tl, cause, nowMS, target, def.StatModifier.Target, deltas[key]); err != nil {
				return nil, err
			}
		}
		if _, err := tl.Append(nowMS, timeline.EventBuffExpired, cause, timeline.BuffExpiredPayload{
			CasterID: key.CasterID,
			TargetID: target.InstanceID,
			BuffID:   key.BuffID,
		}); err != nil {
			return nil, err
		}
		expired = append(expired, key.BuffID)
	}
	return expired, nil
}

// applyAndRecordModifier applies a single stat modifier, stores the exact
// signed delta it produced on the buff record (so expiry can undo it
// precisely), and emits the matching StatChanged entry.
func applyAndRecordModifier(tl *timeline.Timeline, cause timeline.Cause, nowMS int64, target *runtime.RuntimeUnit, key runtime.BuffKey, m stats.Modifier) error {
	before := fieldValue(&target.Stats, m.Target)
	target.Stats.ApplyModifiers([]stats.Modifier{m})
	after := fieldValue(&target.Stats, m.Target)

	if b, ok := target.Buffs[key]; ok {
		b.AppliedDelta = after - before
	}

	_, err := tl.Append(nowMS, timeline.EventStatChanged, cause, timeline.StatChangedPayload{
		InstanceID:  target.InstanceID,
		Field:       string(m.Target),
		ValueBefore: before,
		ValueAfter:  after,
	})
	return err
}

// revertModifier subtracts the exact delta recorded when the modifier was
// applied, guaranteeing ValueAfter here equals the pre-apply value
// regardless of whether the original modifier was flat or percent.
func revertModifier(tl *timeline.Timeline, cause timeline.Cause, nowMS int64, target *runtime.RuntimeUnit, field stats.ModifierTarget, delta int) error {
	before := fieldValue(&target.Stats, field)
	setFieldValue(&target.Stats, field, before-delta)
	after := fieldValue(&target.Stats, field)
	_, err := tl.Append(nowMS, timeline.EventStatChanged, cause, timeline.StatChangedPayload{
		InstanceID:  target.InstanceID,
		Field:       string(field),
		ValueBefore: before,
		ValueAfter:  after,
	})
	return err
}

func setFieldValue(s *stats.UnitStats, t stats.ModifierTarget, v int) {
	switch t {
	case stats.TargetAttackInterval:
		s.AttackIntervalMS = int64(v)
	case stats.TargetMaxHealth:
		s.MaxHealth = v
	case stats.TargetAttack:
		s.Attack = v
	case stats.TargetDefense:
		s.Defense = v
	}
}

func fieldValue(s *stats.UnitStats, t stats.ModifierTarget) int {
	if t == stats.TargetAttackInterval {
		return int(s.AttackIntervalMS)
	}
	switch t {
	case stats.TargetMaxHealth:
		return s.MaxHealth
	case stats.TargetAttack:
		return s.Attack
	case stats.TargetDefense:
		return s.Defense
	default:
		return 0
	}
}

// Active reports whether target currently carries buffID, applied by any
// caster.
func Active(target *runtime.RuntimeUnit, buffID string) bool {
	for key := range target.Buffs {
		if key.BuffID == buffID {
			return true
		}
	}
	return false
}

// Stacks returns the stack count of the (casterID, buffID) instance on
// target, or 0 if absent.
func Stacks(target *runtime.RuntimeUnit, casterID uuid.UUID, buffID string) int {
	key := runtime.BuffKey{CasterID: casterID, TargetID: target.InstanceID, BuffID: buffID}
	if b, ok := target.Buffs[key]; ok {
		return b.Stacks
	}
	return 0
}
