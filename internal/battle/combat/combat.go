// Package combat implements the Combat Resolver: attack damage, resonance
// accrual, and auto-cast gating, against the shared runtime state.
package combat

import (
	"github.com/nexus-arena/core/internal/battle/effects"
	"github.com/nexus-arena/core/internal/battle/gamedata"
	"github.com/nexus-arena/core/internal/battle/runtime"
	"github.com/nexus-arena/core/internal/battle/timeline"
)

// ResonancePerAttack is the amount of resonance a unit gains from landing a
// basic attack.
const ResonancePerAttack = 10

// ResolveAttack computes and records one attack from attacker to defender:
// an Attack entry, an HpChanged entry, any on-hit triggered effects from the
// attacker's equipped items (cause-linked children of the Attack entry), and
// reports lethal=true when hp_after == 0 along with the Attack entry's seq,
// so the caller can schedule a cause-linked DeathCheck.
//
// damage = max(1, attacker.attack - defender.defense), folded with any
// damage-bonus on-hit effects before the HpChanged entry is recorded. The
// entry's delta is the hp actually removed, so a hit that overkills records
// hp_after - hp_before rather than -damage.
func ResolveAttack(tl *timeline.Timeline, nowMS int64, attacker, defender *runtime.RuntimeUnit, kind timeline.AttackKind, items []gamedata.EquipmentMetadata) (lethal bool, attackSeq uint64, err error) {
	attackEntry, err := tl.Append(nowMS, timeline.EventAttack, timeline.Root(timeline.CausePeriod), timeline.AttackPayload{
		Kind:       kind,
		AttackerID: attacker.InstanceID,
		DefenderID: defender.InstanceID,
	})
	if err != nil {
		return false, 0, err
	}
	attackCause := timeline.Parent(attackEntry.Seq)

	damage := attacker.Stats.Attack - defender.Stats.Defense
	if damage < 1 {
		damage = 1
	}

	var onHit []gamedata.TriggeredEffect
	for _, item := range items {
		onHit = append(onHit, item.OnHit...)
	}
	bonus, err := effects.EvaluateAll(tl, attackCause, nowMS, attacker, defender, damageBonusEffects(onHit))
	if err != nil {
		return false, attackEntry.Seq, err
	}
	damage += bonus

	hpBefore, hpAfter := defender.ApplyDamage(damage)
	if _, err := tl.Append(nowMS, timeline.EventHpChanged, attackCause, timeline.HpChangedPayload{
		InstanceID: defender.InstanceID,
		Reason:     timeline.HpChangeBasicAttack,
		Delta:      hpAfter - hpBefore,
		HpBefore:   hpBefore,
		HpAfter:    hpAfter,
	}); err != nil {
		return false, attackEntry.Seq, err
	}

	if _, err := effects.EvaluateAll(tl, attackCause, nowMS, attacker, defender, nonDamageBonusEffects(onHit)); err != nil {
		return false, attackEntry.Seq, err
	}

	return hpAfter == 0, attackEntry.Seq, nil
}

func damageBonusEffects(all []gamedata.TriggeredEffect) []gamedata.TriggeredEffect {
	var out []gamedata.TriggeredEffect
	for _, e := range all {
		if e.Kind == effects.KindDamageBonus {
			out = append(out, e)
		}
	}
	return out
}

func nonDamageBonusEffects(all []gamedata.TriggeredEffect) []gamedata.TriggeredEffect {
	var out []gamedata.TriggeredEffect
	for _, e := range all {
		if e.Kind != effects.KindDamageBonus {
			out = append(out, e)
		}
	}
	return out
}

// ResolveDeath marks defender dead, moves it to the graveyard, and records
// UnitDied. Callers invoke this from the scheduled DeathCheck event, not
// directly from ResolveAttack; the unit is already marked dead by the lethal
// hit, and a dead unit cannot be healed.
func ResolveDeath(tl *timeline.Timeline, cause timeline.Cause, nowMS int64, u *runtime.RuntimeUnit, grave *runtime.Graveyard) error {
	if u.Stats.CurrentHealth > 0 {
		return nil
	}
	grave.Add(u)
	_, err := tl.Append(nowMS, timeline.EventUnitDied, cause, timeline.UnitDiedPayload{
		InstanceID: u.InstanceID,
	})
	return err
}

// GainResonance applies the resonance-accrual gating rules to target and, on
// a transition into a full gauge, marks it pending an auto-cast and emits a
// ResonanceGained-equivalent via PendingCast for the scheduler to pick up.
// Resonance gain itself is not a distinct timeline event kind; it surfaces
// only through the AutoCastStart entry it leads to.
func GainResonance(target *runtime.RuntimeUnit, amount int, nowMS int64, allowAutocastWhenFull bool) bool {
	return target.GainResonance(amount, nowMS, allowAutocastWhenFull)
}

// StartAutoCast converts a pending cast into an AutoCastStart entry and
// marks the unit casting until castDurationMS elapses.
func StartAutoCast(tl *timeline.Timeline, nowMS int64, u *runtime.RuntimeUnit, castDurationMS int64) (timeline.Entry, error) {
	u.ResolveAutoCastStart()
	u.CastingUntilMS = nowMS + castDurationMS
	return tl.Append(nowMS, timeline.EventAutoCastStart, timeline.Root(timeline.CausePeriod), timeline.AutoCastStartPayload{
		InstanceID: u.InstanceID,
	})
}

// EndAutoCast resets resonance and the gain lock, and emits AutoCastEnd as a
// child of the AutoCastStart entry that began this cast.
func EndAutoCast(tl *timeline.Timeline, startSeq uint64, nowMS int64, u *runtime.RuntimeUnit) (timeline.Entry, error) {
	u.ResolveAutoCastEnd(nowMS)
	return tl.Append(nowMS, timeline.EventAutoCastEnd, timeline.Parent(startSeq), timeline.AutoCastEndPayload{
		InstanceID: u.InstanceID,
	})
}

// CastAbility records an ability cast as a child of the AutoCastStart entry
// that triggered it.
func CastAbility(tl *timeline.Timeline, startSeq uint64, nowMS int64, u *runtime.RuntimeUnit, abilityID string) (timeline.Entry, error) {
	return tl.Append(nowMS, timeline.EventAbilityCast, timeline.Parent(startSeq), timeline.AbilityCastPayload{
		InstanceID: u.InstanceID,
		AbilityID:  abilityID,
	})
}
