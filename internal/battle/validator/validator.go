// Package validator checks a Timeline's structural invariants independent
// of the engine's own code path: it never re-simulates combat, only the
// shape of the log (see replayer for the semantic check).
package validator

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nexus-arena/core/internal/battle/timeline"
)

// ViolationKind classifies a single structural defect found in a Timeline.
type ViolationKind string

const (
	ViolationBadCauseRef       ViolationKind = "bad_cause_ref"
	ViolationSeqNotMonotone    ViolationKind = "seq_not_monotone"
	ViolationDuplicateSeq      ViolationKind = "duplicate_seq"
	ViolationMissingBattleStart ViolationKind = "missing_battle_start"
	ViolationMissingBattleEnd  ViolationKind = "missing_battle_end"
	ViolationMultipleBattleStart ViolationKind = "multiple_battle_start"
	ViolationMultipleBattleEnd ViolationKind = "multiple_battle_end"
	ViolationUnpairedAutoCast  ViolationKind = "unpaired_auto_cast"
	ViolationNestedAutoCast    ViolationKind = "nested_auto_cast"
	ViolationHpReconciliation  ViolationKind = "hp_reconciliation"
	ViolationUnitCount         ViolationKind = "unit_count"
	ViolationStatChangedChain  ViolationKind = "stat_changed_chain"
)

// Violation is one structural defect, tagged and located by Seq.
type Violation struct {
	Kind ViolationKind
	Seq  uint64
	Detail string
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s at seq=%d: %s", v.Kind, v.Seq, v.Detail)
}

// Validate walks entries once and reports every structural violation found;
// an empty (nil) result means the timeline passed.
func Validate(tl *timeline.Timeline) []Violation {
	var violations []Violation
	entries := tl.Entries()

	violations = append(violations, checkSeqOrdering(entries)...)
	violations = append(violations, checkCauseRefs(entries)...)
	violations = append(violations, checkBattleMarkers(entries)...)
	violations = append(violations, checkAutoCastPairing(entries)...)
	violations = append(violations, checkHpReconciliation(entries)...)
	violations = append(violations, checkUnitCounts(entries)...)
	violations = append(violations, checkStatChangedChain(entries)...)

	return violations
}

func checkSeqOrdering(entries []timeline.Entry) []Violation {
	var violations []Violation
	seen := make(map[uint64]bool, len(entries))
	var lastSeq uint64
	for i, e := range entries {
		if seen[e.Seq] {
			violations = append(violations, Violation{Kind: ViolationDuplicateSeq, Seq: e.Seq, Detail: "seq appears more than once"})
		}
		seen[e.Seq] = true
		if i > 0 && e.Seq <= lastSeq {
			violations = append(violations, Violation{Kind: ViolationSeqNotMonotone, Seq: e.Seq, Detail: "seq did not strictly increase"})
		}
		lastSeq = e.Seq
	}
	return violations
}

func checkCauseRefs(entries []timeline.Entry) []Violation {
	var violations []Violation
	seen := make(map[uint64]bool, len(entries))
	for _, e := range entries {
		if e.Cause.Type == "parent" {
			if !seen[e.Cause.ParentSeq] {
				violations = append(violations, Violation{Kind: ViolationBadCauseRef, Seq: e.Seq, Detail: fmt.Sprintf("parent seq=%d not seen before this entry", e.Cause.ParentSeq)})
			}
		}
		seen[e.Seq] = true
	}
	return violations
}

func checkBattleMarkers(entries []timeline.Entry) []Violation {
	var violations []Violation
	starts, ends := 0, 0
	for i, e := range entries {
		switch e.Kind {
		case timeline.EventBattleStart:
			starts++
			if i != 0 {
				violations = append(violations, Violation{Kind: ViolationMultipleBattleStart, Seq: e.Seq, Detail: "BattleStart is not the first entry"})
			}
		case timeline.EventBattleEnd:
			ends++
			if i != len(entries)-1 {
				violations = append(violations, Violation{Kind: ViolationMultipleBattleEnd, Seq: e.Seq, Detail: "BattleEnd is not the last entry"})
			}
		}
	}
	if starts == 0 {
		violations = append(violations, Violation{Kind: ViolationMissingBattleStart, Detail: "no BattleStart entry found"})
	} else if starts > 1 {
		violations = append(violations, Violation{Kind: ViolationMultipleBattleStart, Detail: "more than one BattleStart entry"})
	}
	if ends == 0 {
		violations = append(violations, Violation{Kind: ViolationMissingBattleEnd, Detail: "no BattleEnd entry found"})
	} else if ends > 1 {
		violations = append(violations, Violation{Kind: ViolationMultipleBattleEnd, Detail: "more than one BattleEnd entry"})
	}
	return violations
}

// checkAutoCastPairing confirms, per caster, that AutoCastStart/AutoCastEnd
// form a well-formed alternating sequence starting with Start and with no
// nested starts for the same caster.
func checkAutoCastPairing(entries []timeline.Entry) []Violation {
	var violations []Violation
	open := make(map[uuid.UUID]bool)
	for _, e := range entries {
		switch e.Kind {
		case timeline.EventAutoCastStart:
			var p timeline.AutoCastStartPayload
			if err := e.Decode(&p); err != nil {
				continue
			}
			if open[p.InstanceID] {
				violations = append(violations, Violation{Kind: ViolationNestedAutoCast, Seq: e.Seq, Detail: fmt.Sprintf("nested AutoCastStart for %s", p.InstanceID)})
				continue
			}
			open[p.InstanceID] = true

		case timeline.EventAutoCastEnd:
			var p timeline.AutoCastEndPayload
			if err := e.Decode(&p); err != nil {
				continue
			}
			if !open[p.InstanceID] {
				violations = append(violations, Violation{Kind: ViolationUnpairedAutoCast, Seq: e.Seq, Detail: fmt.Sprintf("AutoCastEnd without matching Start for %s", p.InstanceID)})
				continue
			}
			open[p.InstanceID] = false
		}
	}
	for id, stillOpen := range open {
		if stillOpen {
			violations = append(violations, Violation{Kind: ViolationUnpairedAutoCast, Detail: fmt.Sprintf("AutoCastStart for %s never closed", id)})
		}
	}
	return violations
}

// checkHpReconciliation confirms, per target, that the sum of HpChanged
// deltas equals final_hp - initial_hp over the subsequence for that target.
// Since the validator has no independent knowledge of a unit's true
// final_hp, it instead checks the weaker, purely structural property: that
// running hp_before/hp_after chain without gaps (hp_after of entry n ==
// hp_before of entry n+1 for the same target).
func checkHpReconciliation(entries []timeline.Entry) []Violation {
	var violations []Violation
	lastHP := make(map[uuid.UUID]int)
	seenFirst := make(map[uuid.UUID]bool)
	for _, e := range entries {
		if e.Kind != timeline.EventHpChanged {
			continue
		}
		var p timeline.HpChangedPayload
		if err := e.Decode(&p); err != nil {
			continue
		}
		if seenFirst[p.InstanceID] && lastHP[p.InstanceID] != p.HpBefore {
			violations = append(violations, Violation{
				Kind: ViolationHpReconciliation,
				Seq:  e.Seq,
				Detail: fmt.Sprintf("hp_before=%d does not match prior hp_after=%d for %s", p.HpBefore, lastHP[p.InstanceID], p.InstanceID),
			})
		}
		lastHP[p.InstanceID] = p.HpAfter
		seenFirst[p.InstanceID] = true
	}
	return violations
}

// checkUnitCounts confirms every UnitSpawned instance_id is spawned exactly
// once, and that every UnitDied refers to an instance_id that was spawned
// and has not already died. A unit with no matching UnitDied is read as
// surviving to the final state, which is a valid, not a violated, outcome.
func checkUnitCounts(entries []timeline.Entry) []Violation {
	var violations []Violation
	spawned := make(map[uuid.UUID]bool)
	died := make(map[uuid.UUID]bool)
	for _, e := range entries {
		switch e.Kind {
		case timeline.EventUnitSpawned:
			var p timeline.UnitSpawnedPayload
			if err := e.Decode(&p); err != nil {
				continue
			}
			if spawned[p.InstanceID] {
				violations = append(violations, Violation{Kind: ViolationUnitCount, Seq: e.Seq, Detail: fmt.Sprintf("instance %s spawned more than once", p.InstanceID)})
				continue
			}
			spawned[p.InstanceID] = true

		case timeline.EventUnitDied:
			var p timeline.UnitDiedPayload
			if err := e.Decode(&p); err != nil {
				continue
			}
			if !spawned[p.InstanceID] {
				violations = append(violations, Violation{Kind: ViolationUnitCount, Seq: e.Seq, Detail: fmt.Sprintf("UnitDied for %s with no prior UnitSpawned", p.InstanceID)})
				continue
			}
			if died[p.InstanceID] {
				violations = append(violations, Violation{Kind: ViolationUnitCount, Seq: e.Seq, Detail: fmt.Sprintf("instance %s died more than once", p.InstanceID)})
				continue
			}
			died[p.InstanceID] = true
		}
	}
	return violations
}

// checkStatChangedChain confirms, per (target, field), that each
// StatChanged's value_before matches the value_after of the most recent
// StatChanged for that same target/field pair.
func checkStatChangedChain(entries []timeline.Entry) []Violation {
	type key struct {
		id    uuid.UUID
		field string
	}
	var violations []Violation
	lastAfter := make(map[key]int)
	seenFirst := make(map[key]bool)
	for _, e := range entries {
		if e.Kind != timeline.EventStatChanged {
			continue
		}
		var p timeline.StatChangedPayload
		if err := e.Decode(&p); err != nil {
			continue
		}
		k := key{id: p.InstanceID, field: p.Field}
		if seenFirst[k] && lastAfter[k] != p.ValueBefore {
			violations = append(violations, Violation{
				Kind: ViolationStatChangedChain,
				Seq:  e.Seq,
				Detail: fmt.Sprintf("value_before=%d does not match prior value_after=%d for %s.%s", p.ValueBefore, lastAfter[k], p.InstanceID, p.Field),
			})
		}
		lastAfter[k] = p.ValueAfter
		seenFirst[k] = true
	}
	return violations
}
