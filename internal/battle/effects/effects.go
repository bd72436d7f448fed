// Package effects evaluates the on-hit TriggeredEffect tagged union carried
// by equipment metadata: heals, buff applications, and damage bonuses,
// emitted as cause-linked children of the triggering Attack entry.
package effects

import (
	"fmt"

	"github.com/nexus-arena/core/internal/battle/buffs"
	"github.com/nexus-arena/core/internal/battle/gamedata"
	"github.com/nexus-arena/core/internal/battle/runtime"
	"github.com/nexus-arena/core/internal/battle/timeline"
)

const (
	KindHeal        = "heal"
	KindApplyBuff   = "apply_buff"
	KindDamageBonus = "damage_bonus"
)

// Evaluate dispatches a single TriggeredEffect against source/target. Heal
// and ApplyBuff mutate state and record their own timeline entries.
// DamageBonus returns a flat amount the combat resolver folds into the
// triggering attack's damage instead, since that damage must appear inside
// the Attack's own HpChanged entry rather than a separate one.
func Evaluate(tl *timeline.Timeline, cause timeline.Cause, nowMS int64, source, target *runtime.RuntimeUnit, eff gamedata.TriggeredEffect) (damageBonus int, err error) {
	switch eff.Kind {
	case KindHeal:
		amount := eff.Flat
		if eff.Percent > 0 {
			amount += (target.Stats.MaxHealth * eff.Percent) / 100
		}
		before, after := target.Heal(amount)
		_, err = tl.Append(nowMS, timeline.EventHpChanged, cause, timeline.HpChangedPayload{
			InstanceID: target.InstanceID,
			Reason:     timeline.HpChangeCommand,
			Delta:      after - before,
			HpBefore:   before,
			HpAfter:    after,
		})
		return 0, err

	case KindApplyBuff:
		def := buffs.Definition{
			BuffID:     eff.BuffID,
			Policy:     buffs.AddStack,
			DurationMS: eff.DurationMS,
		}
		return 0, buffs.Apply(tl, cause, nowMS, source.InstanceID, target, def)

	case KindDamageBonus:
		return eff.Flat, nil

	default:
		return 0, fmt.Errorf("effects: unknown triggered effect kind %q", eff.Kind)
	}
}

// EvaluateAll runs each on-hit effect in order, summing any damage bonuses
// for the caller to fold into its attack's damage computation.
func EvaluateAll(tl *timeline.Timeline, cause timeline.Cause, nowMS int64, source, target *runtime.RuntimeUnit, effs []gamedata.TriggeredEffect) (int, error) {
	total := 0
	for _, eff := range effs {
		bonus, err := Evaluate(tl, cause, nowMS, source, target, eff)
		if err != nil {
			return 0, err
		}
		total += bonus
	}
	return total, nil
}
