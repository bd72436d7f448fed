// Package replayer reconstructs a parallel runtime state from a Timeline,
// the static game-data catalog, and the same decks the battle was built
// from, and confirms that every recorded outcome is predicted by a
// deterministic re-execution of the same rules against the same initial
// entities. It never reads the engine's own live entities: deck.Build is
// called fresh here, so a wrong formula in the engine's own run cannot mask
// itself by agreeing with its own journal.
package replayer

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nexus-arena/core/internal/battle/deck"
	"github.com/nexus-arena/core/internal/battle/effects"
	"github.com/nexus-arena/core/internal/battle/gamedata"
	"github.com/nexus-arena/core/internal/battle/runtime"
	"github.com/nexus-arena/core/internal/battle/timeline"
)

// ViolationKind classifies a prediction failure: a recorded outcome this
// independent re-execution could not reproduce from the same starting
// entities and rules.
type ViolationKind string

const (
	ViolationUnpredictedDamage ViolationKind = "unpredicted_damage"
	ViolationUnknownTarget     ViolationKind = "unknown_target"
	ViolationDeathMismatch     ViolationKind = "death_mismatch"
	ViolationUnpredictedEffect ViolationKind = "unpredicted_effect"
	ViolationUnrecognizedCause ViolationKind = "unrecognized_cause"
	ViolationBuildFailed       ViolationKind = "build_failed"
)

type Violation struct {
	Kind   ViolationKind
	Seq    uint64
	Detail string
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s at seq=%d: %s", v.Kind, v.Seq, v.Detail)
}

// StrictMode, when true, treats any HpChanged/StatChanged/BuffApplied entry
// whose parent cause is not a recognized Attack entry as a violation rather
// than a silent pass. Root-caused entries, BuffTick and BuffExpired are not
// checked against their cause.
type Options struct {
	StrictMode bool
}

// pendingAttack is the replayer's own prediction for one Attack entry,
// computed from the shadow entities at the moment the Attack was seen, so
// every entry caused by it can be checked independently of what the engine
// itself recorded.
type pendingAttack struct {
	attackerID, defenderID uuid.UUID
	expectedDamage         int
	// onHit holds the non-damage-bonus triggered effects, in catalog
	// declaration order, that this attack's on-hit resolution must produce
	// one timeline entry each for, in order.
	onHit    []gamedata.TriggeredEffect
	consumed int
}

func (p *pendingAttack) next() (gamedata.TriggeredEffect, bool) {
	if p.consumed >= len(p.onHit) {
		return gamedata.TriggeredEffect{}, false
	}
	eff := p.onHit[p.consumed]
	p.consumed++
	return eff, true
}

// Replay rebuilds the initial entities from playerDeck/opponentDeck against
// catalog (independently of however the engine built its own copy) and
// walks tl's entries in order, checking every Attack/HpChanged/UnitDied/
// StatChanged/BuffApplied/BuffTick/BuffExpired entry against an
// independently recomputed expectation.
func Replay(tl *timeline.Timeline, catalog *gamedata.Catalog, playerDeck, opponentDeck deck.Deck, width, height uint8, opts Options) []Violation {
	scratch := timeline.New()
	ents, _, err := deck.Build(scratch, playerDeck, opponentDeck, catalog, width, height)
	if err != nil {
		return []Violation{{Kind: ViolationBuildFailed, Detail: fmt.Sprintf("replayer: could not rebuild initial entities: %v", err)}}
	}

	units := ents.UnitsByID
	pending := make(map[uint64]*pendingAttack)
	buffStacks := make(map[runtime.BuffKey]int)

	var violations []Violation
	flag := func(kind ViolationKind, seq uint64, format string, args ...any) {
		violations = append(violations, Violation{Kind: kind, Seq: seq, Detail: fmt.Sprintf(format, args...)})
	}

	for _, e := range tl.Entries() {
		switch e.Kind {
		case timeline.EventAttack:
			var p timeline.AttackPayload
			if err := e.Decode(&p); err != nil {
				continue
			}
			attacker, okA := units[p.AttackerID]
			defender, okD := units[p.DefenderID]
			if !okA {
				flag(ViolationUnknownTarget, e.Seq, "Attack from unspawned attacker %s", p.AttackerID)
			}
			if !okD {
				flag(ViolationUnknownTarget, e.Seq, "Attack against unspawned defender %s", p.DefenderID)
			}
			if !okA || !okD {
				continue
			}

			onHit := equippedOnHit(catalog, attacker)
			damage := attacker.Stats.Attack - defender.Stats.Defense
			if damage < 1 {
				damage = 1
			}
			for _, eff := range onHit {
				if eff.Kind == effects.KindDamageBonus {
					damage += eff.Flat
				}
			}
			pending[e.Seq] = &pendingAttack{
				attackerID:     p.AttackerID,
				defenderID:     p.DefenderID,
				expectedDamage: damage,
				onHit:          nonDamageBonus(onHit),
			}

		case timeline.EventHpChanged:
			var p timeline.HpChangedPayload
			if err := e.Decode(&p); err != nil {
				continue
			}
			u, ok := units[p.InstanceID]
			if !ok {
				flag(ViolationUnknownTarget, e.Seq, "HpChanged for unspawned instance %s", p.InstanceID)
				continue
			}
			if u.Stats.CurrentHealth != p.HpBefore {
				flag(ViolationUnpredictedDamage, e.Seq, "shadow hp=%d disagrees with recorded hp_before=%d for %s", u.Stats.CurrentHealth, p.HpBefore, p.InstanceID)
			}
			if p.HpAfter != p.HpBefore+p.Delta {
				flag(ViolationUnpredictedDamage, e.Seq, "hp_after=%d != hp_before=%d + delta=%d for %s", p.HpAfter, p.HpBefore, p.Delta, p.InstanceID)
			}

			pa, causeOK := pendingFromCause(pending, e.Cause)
			switch {
			case causeOK && p.Reason == timeline.HpChangeBasicAttack:
				expected := pa.expectedDamage
				if expected > u.Stats.CurrentHealth {
					expected = u.Stats.CurrentHealth
				}
				if -p.Delta != expected {
					flag(ViolationUnpredictedDamage, e.Seq, "expected attack damage=%d, recorded delta=%d", expected, p.Delta)
				}
			case causeOK && p.Reason == timeline.HpChangeCommand:
				eff, ok := pa.next()
				if !ok || eff.Kind != effects.KindHeal {
					flag(ViolationUnpredictedEffect, e.Seq, "HpChanged(command) for %s with no matching on-hit heal effect pending", p.InstanceID)
					break
				}
				expectedHeal := eff.Flat + (u.Stats.MaxHealth*eff.Percent)/100
				if p.Delta != expectedHeal {
					flag(ViolationUnpredictedEffect, e.Seq, "expected heal=%d, recorded delta=%d for %s", expectedHeal, p.Delta, p.InstanceID)
				}
			case e.Cause.Type == "parent" && !causeOK && opts.StrictMode:
				flag(ViolationUnrecognizedCause, e.Seq, "HpChanged cause parent seq=%d is not a recognized Attack", e.Cause.ParentSeq)
			}

			u.Stats.CurrentHealth = p.HpAfter
			u.Alive = p.HpAfter > 0

		case timeline.EventUnitDied:
			var p timeline.UnitDiedPayload
			if err := e.Decode(&p); err != nil {
				continue
			}
			u, ok := units[p.InstanceID]
			if !ok || u.Alive || u.Stats.CurrentHealth > 0 {
				flag(ViolationDeathMismatch, e.Seq, "UnitDied for %s but shadow hp did not reach zero first", p.InstanceID)
				continue
			}

		case timeline.EventBuffApplied:
			var p timeline.BuffAppliedPayload
			if err := e.Decode(&p); err != nil {
				continue
			}
			if _, ok := units[p.TargetID]; !ok {
				flag(ViolationUnknownTarget, e.Seq, "BuffApplied for unspawned target %s", p.TargetID)
				continue
			}

			pa, causeOK := pendingFromCause(pending, e.Cause)
			if causeOK {
				eff, ok := pa.next()
				if !ok || eff.Kind != effects.KindApplyBuff {
					flag(ViolationUnpredictedEffect, e.Seq, "BuffApplied for %s with no matching apply_buff effect pending", p.TargetID)
					break
				}
				if eff.BuffID != p.BuffID {
					flag(ViolationUnpredictedEffect, e.Seq, "expected buff_id=%s, recorded=%s", eff.BuffID, p.BuffID)
				}
				if p.CasterID != pa.attackerID {
					flag(ViolationUnpredictedEffect, e.Seq, "expected caster_id=%s, recorded=%s for buff %s", pa.attackerID, p.CasterID, p.BuffID)
				}
			} else if e.Cause.Type == "parent" && opts.StrictMode {
				flag(ViolationUnrecognizedCause, e.Seq, "BuffApplied cause parent seq=%d is not a recognized Attack", e.Cause.ParentSeq)
			}

			key := runtime.BuffKey{CasterID: p.CasterID, TargetID: p.TargetID, BuffID: p.BuffID}
			buffStacks[key]++
			if buffStacks[key] != p.Stacks {
				flag(ViolationUnpredictedEffect, e.Seq, "expected stacks=%d, recorded=%d for buff %s", buffStacks[key], p.Stacks, p.BuffID)
			}

		case timeline.EventBuffTick:
			var p timeline.BuffTickPayload
			if err := e.Decode(&p); err != nil {
				continue
			}
			key := runtime.BuffKey{CasterID: p.CasterID, TargetID: p.TargetID, BuffID: p.BuffID}
			if _, ok := buffStacks[key]; !ok {
				flag(ViolationUnpredictedEffect, e.Seq, "BuffTick for %s with no active (caster, target, buff_id) instance", p.BuffID)
			}

		case timeline.EventBuffExpired:
			var p timeline.BuffExpiredPayload
			if err := e.Decode(&p); err != nil {
				continue
			}
			key := runtime.BuffKey{CasterID: p.CasterID, TargetID: p.TargetID, BuffID: p.BuffID}
			if _, ok := buffStacks[key]; !ok {
				flag(ViolationUnpredictedEffect, e.Seq, "BuffExpired for %s with no active (caster, target, buff_id) instance", p.BuffID)
			}
			delete(buffStacks, key)

		case timeline.EventStatChanged:
			var p timeline.StatChangedPayload
			if err := e.Decode(&p); err != nil {
				continue
			}
			u, ok := units[p.InstanceID]
			if !ok {
				flag(ViolationUnknownTarget, e.Seq, "StatChanged for unspawned instance %s", p.InstanceID)
				continue
			}
			if e.Cause.Type == "parent" {
				if _, causeOK := pendingFromCause(pending, e.Cause); !causeOK && opts.StrictMode {
					flag(ViolationUnrecognizedCause, e.Seq, "StatChanged cause parent seq=%d is not a recognized Attack", e.Cause.ParentSeq)
				}
			}
			setShadowField(u, p.Field, p.ValueAfter)
		}
	}

	return violations
}

func pendingFromCause(pending map[uint64]*pendingAttack, cause timeline.Cause) (*pendingAttack, bool) {
	if cause.Type != "parent" {
		return nil, false
	}
	pa, ok := pending[cause.ParentSeq]
	return pa, ok
}

// equippedOnHit resolves attacker's equipped instance items back to their
// catalog OnHit effect list, in equip declaration order.
func equippedOnHit(catalog *gamedata.Catalog, attacker *runtime.RuntimeUnit) []gamedata.TriggeredEffect {
	var out []gamedata.TriggeredEffect
	for _, item := range attacker.Equipment {
		if meta, ok := catalog.Equip(item.BaseUUID); ok {
			out = append(out, meta.OnHit...)
		}
	}
	return out
}

func nonDamageBonus(all []gamedata.TriggeredEffect) []gamedata.TriggeredEffect {
	var out []gamedata.TriggeredEffect
	for _, e := range all {
		if e.Kind != effects.KindDamageBonus {
			out = append(out, e)
		}
	}
	return out
}

func setShadowField(u *runtime.RuntimeUnit, field string, value int) {
	switch field {
	case "max_health":
		u.Stats.MaxHealth = value
	case "attack":
		u.Stats.Attack = value
	case "defense":
		u.Stats.Defense = value
	case "attack_interval_ms":
		u.Stats.AttackIntervalMS = int64(value)
	}
}
