// Package engine wires the Field Model, Buff Engine, Combat Resolver, and
// Event Scheduler into the single pure function that turns two decks into a
// Timeline and a BattleResult. The engine is single-threaded, cooperative,
// and has no suspension points: it runs start to finish inside Run.
package engine

import (
	"sort"

	"github.com/google/uuid"

	"github.com/nexus-arena/core/internal/battle/combat"
	"github.com/nexus-arena/core/internal/battle/deck"
	"github.com/nexus-arena/core/internal/battle/gamedata"
	"github.com/nexus-arena/core/internal/battle/runtime"
	"github.com/nexus-arena/core/internal/battle/scheduler"
	"github.com/nexus-arena/core/internal/battle/timeline"
)

// Winner mirrors timeline.BattleWinner for callers that don't want to
// import the timeline package directly.
type Winner = timeline.BattleWinner

// Config bounds a single run: a max simulated time prevents a pathological
// deck pairing (e.g. two units that can never kill each other) from running
// forever.
type Config struct {
	Width, Height int
	MaxTimeMS     int64
}

// BattleResult is the summary the caller needs without re-walking the
// Timeline.
type BattleResult struct {
	Winner     Winner
	EndedAtMS  int64
	EntryCount int
}

type castState struct {
	startSeq uint64
}

// Run executes a full battle from two decks to completion: a BattleStart
// prefix, the simulated combat loop, and a terminal BattleEnd entry. It
// never mutates anything outside the Timeline and the entities it builds.
func Run(playerDeck, opponentDeck deck.Deck, catalog *gamedata.Catalog, cfg Config) (*timeline.Timeline, BattleResult, error) {
	tl := timeline.New()

	ents, _, err := deck.Build(tl, playerDeck, opponentDeck, catalog, uint8(cfg.Width), uint8(cfg.Height))
	if err != nil {
		return nil, BattleResult{}, err
	}

	sched := scheduler.New()
	for _, u := range ents.Units {
		sched.Schedule(0, scheduler.KindAutoAttackTick, u.Owner, u.InstanceID)
	}

	grave := &runtime.Graveyard{}
	casting := make(map[uuid.UUID]*castState)

	var nowMS int64
	for {
		ev, ok := sched.Next()
		if !ok {
			break
		}
		nowMS = ev.TimeMS
		if cfg.MaxTimeMS > 0 && nowMS > cfg.MaxTimeMS {
			break
		}

		// A lethal hit clears Alive at once; the DeathCheck it scheduled still
		// runs so that UnitDied is recorded.
		u, exists := ents.UnitsByID[ev.InstanceID]
		if !exists || (!u.Alive && ev.Tier != scheduler.KindDeathCheck) {
			continue
		}

		switch ev.Tier {
		case scheduler.KindAutoAttackTick:
			if err := handleAutoAttack(tl, sched, ents, catalog, u, nowMS); err != nil {
				return nil, BattleResult{}, err
			}

		case scheduler.KindDeathCheck:
			deathCause := timeline.Root(timeline.CauseSystem)
			if ev.HasCause {
				deathCause = timeline.Parent(ev.CauseSeq)
			}
			if err := combat.ResolveDeath(tl, deathCause, nowMS, u, grave); err != nil {
				return nil, BattleResult{}, err
			}

		case scheduler.KindAutoCastStart:
			entry, err := combat.StartAutoCast(tl, nowMS, u, autoCastDurationMS)
			if err != nil {
				return nil, BattleResult{}, err
			}
			casting[u.InstanceID] = &castState{startSeq: entry.Seq}
			sched.Schedule(nowMS+autoCastDurationMS, scheduler.KindAutoCastEnd, u.Owner, u.InstanceID)

		case scheduler.KindAutoCastEnd:
			cs := casting[u.InstanceID]
			startSeq := ev.Seq
			if cs != nil {
				startSeq = cs.startSeq
			}
			if _, err := combat.EndAutoCast(tl, startSeq, nowMS, u); err != nil {
				return nil, BattleResult{}, err
			}
			delete(casting, u.InstanceID)
		}

		schedulePendingAutocasts(sched, ents, nowMS)

		// The battle ends only once every dead unit's UnitDied is recorded.
		dead := 0
		for _, x := range ents.Units {
			if !x.Alive {
				dead++
			}
		}
		if winner, ended := checkTermination(ents); ended && grave.Len() == dead {
			if _, err := tl.Append(nowMS, timeline.EventBattleEnd, timeline.Root(timeline.CauseSystem), timeline.BattleEndPayload{Winner: winner}); err != nil {
				return nil, BattleResult{}, err
			}
			return tl, BattleResult{Winner: winner, EndedAtMS: nowMS, EntryCount: tl.Len()}, nil
		}
	}

	winner, _ := checkTermination(ents)
	if _, err := tl.Append(nowMS, timeline.EventBattleEnd, timeline.Root(timeline.CauseSystem), timeline.BattleEndPayload{Winner: winner}); err != nil {
		return nil, BattleResult{}, err
	}
	return tl, BattleResult{Winner: winner, EndedAtMS: nowMS, EntryCount: tl.Len()}, nil
}

// autoCastDurationMS is the fixed time an auto-cast occupies its caster;
// the catalog does not currently vary this per-ability.
const autoCastDurationMS int64 = 500

func handleAutoAttack(tl *timeline.Timeline, sched *scheduler.Scheduler, ents *deck.Entities, catalog *gamedata.Catalog, attacker *runtime.RuntimeUnit, nowMS int64) error {
	if !attacker.CanAct() {
		return nil
	}
	target := nearestEnemy(ents, attacker)
	if target == nil {
		return nil
	}

	lethal, attackSeq, err := combat.ResolveAttack(tl, nowMS, attacker, target, timeline.AttackAuto, equippedItems(catalog, attacker))
	if err != nil {
		return err
	}
	if lethal {
		sched.ScheduleWithCause(nowMS, scheduler.KindDeathCheck, target.Owner, target.InstanceID, attackSeq)
	}

	combat.GainResonance(attacker, combat.ResonancePerAttack, nowMS, true)

	sched.Schedule(nowMS+attacker.Stats.AttackIntervalMS, scheduler.KindAutoAttackTick, attacker.Owner, attacker.InstanceID)
	return nil
}

// equippedItems resolves an attacker's equipped instance items back to their
// catalog metadata so the combat resolver can evaluate on-hit effects.
func equippedItems(catalog *gamedata.Catalog, attacker *runtime.RuntimeUnit) []gamedata.EquipmentMetadata {
	var out []gamedata.EquipmentMetadata
	for _, item := range attacker.Equipment {
		if meta, ok := catalog.Equip(item.BaseUUID); ok {
			out = append(out, meta)
		}
	}
	return out
}

// nearestEnemy picks a deterministic target: the lowest-instance-id living
// unit on the opposing side. A richer targeting policy (closest by field
// distance, lowest HP, taunt) is a supplementable follow-up, not required by
// any invariant this engine must satisfy.
func nearestEnemy(ents *deck.Entities, attacker *runtime.RuntimeUnit) *runtime.RuntimeUnit {
	var best *runtime.RuntimeUnit
	for _, u := range ents.Units {
		if u.Owner == attacker.Owner || !u.Alive {
			continue
		}
		if best == nil || compareUUID(u.InstanceID, best.InstanceID) < 0 {
			best = u
		}
	}
	return best
}

func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// schedulePendingAutocasts converts every unit's pending cast into a
// scheduled AutoCastStart, in deterministic order (casters sorted by
// instance_id bytes), as step 4 of the scheduler loop requires.
func schedulePendingAutocasts(sched *scheduler.Scheduler, ents *deck.Entities, nowMS int64) {
	var pending []*runtime.RuntimeUnit
	for _, u := range ents.Units {
		if u.PendingCast && u.Alive {
			pending = append(pending, u)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return compareUUID(pending[i].InstanceID, pending[j].InstanceID) < 0
	})
	for _, u := range pending {
		sched.Schedule(nowMS, scheduler.KindAutoCastStart, u.Owner, u.InstanceID)
	}
}

// checkTermination reports the battle's winner once one side has no living
// units; simultaneous elimination is a Draw.
func checkTermination(ents *deck.Entities) (Winner, bool) {
	var playerAlive, opponentAlive bool
	for _, u := range ents.Units {
		if !u.Alive {
			continue
		}
		if u.Owner == "player" {
			playerAlive = true
		} else {
			opponentAlive = true
		}
	}
	switch {
	case !playerAlive && !opponentAlive:
		return timeline.WinnerDraw, true
	case !playerAlive:
		return timeline.WinnerOpponent, true
	case !opponentAlive:
		return timeline.WinnerPlayer, true
	default:
		return "", false
	}
}
