// Package timeline records the causally-linked sequence of events produced by
// a battle run. Every hp, stat, buff, cast and lifecycle change the engine
// makes is mirrored here as an entry (resonance gain is not); the Validator
// and Replayer consume nothing else.
package timeline

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Version is stamped on every serialized Timeline so downstream consumers can
// reject a format they no longer understand.
const Version = 3

// CauseKind tags a root cause when an entry has no parent entry.
type CauseKind string

const (
	CauseInit   CauseKind = "init"
	CausePeriod CauseKind = "period"
	CauseSystem CauseKind = "system"
)

// Cause identifies what produced an entry: either another entry earlier in
// the same timeline (parent), or one of the three root kinds.
type Cause struct {
	Type      string // "parent" | "root"
	ParentSeq uint64 // valid when Type == "parent"
	Kind      CauseKind // valid when Type == "root"
}

func Parent(seq uint64) Cause { return Cause{Type: "parent", ParentSeq: seq} }

func Root(kind CauseKind) Cause { return Cause{Type: "root", Kind: kind} }

// EventKind tags the variant carried in an Entry's Payload. These mirror the
// wire-level tagged union exactly: BattleStart, ArtifactSpawned,
// ItemSpawned, UnitSpawned, Attack, AutoCastStart, AutoCastEnd, AbilityCast,
// BuffApplied, BuffTick, BuffExpired, HpChanged, StatChanged, UnitDied,
// BattleEnd.
type EventKind string

const (
	EventBattleStart     EventKind = "battle_start"
	EventArtifactSpawned EventKind = "artifact_spawned"
	EventItemSpawned     EventKind = "item_spawned"
	EventUnitSpawned     EventKind = "unit_spawned"
	EventAttack          EventKind = "attack"
	EventAutoCastStart   EventKind = "auto_cast_start"
	EventAutoCastEnd     EventKind = "auto_cast_end"
	EventAbilityCast     EventKind = "ability_cast"
	EventBuffApplied     EventKind = "buff_applied"
	EventBuffTick        EventKind = "buff_tick"
	EventBuffExpired     EventKind = "buff_expired"
	EventHpChanged       EventKind = "hp_changed"
	EventStatChanged     EventKind = "stat_changed"
	EventUnitDied        EventKind = "unit_died"
	EventBattleEnd       EventKind = "battle_end"
)

// Entry is one causally-placed record in the timeline. Seq is a strictly
// increasing, globally unique identifier assigned at append time; it is
// distinct from the scheduler's own (time_ms, seq) scheduling key, and the
// two counters advance independently.
type Entry struct {
	TimeMS  int64
	Seq     uint64
	Cause   Cause
	Kind    EventKind
	Payload json.RawMessage
}

// wireEntry mirrors Entry for the stable, versioned JSON form.
type wireEntry struct {
	TimeMS int64           `json:"time_ms"`
	Seq    uint64          `json:"seq"`
	Cause  wireCause       `json:"cause"`
	Event  json.RawMessage `json:"event"`
}

type wireCause struct {
	CauseType string    `json:"cause_type"`
	Seq       uint64    `json:"seq,omitempty"`
	Kind      CauseKind `json:"kind,omitempty"`
}

type wireEvent struct {
	Type    EventKind       `json:"type"`
	Payload json.RawMessage `json:"-"`
}

// Timeline is the append-only, ordered record of a single battle run.
type Timeline struct {
	Version int
	entries []Entry
	nextSeq uint64
}

func New() *Timeline {
	return &Timeline{Version: Version}
}

// Append assigns the entry its Seq and adds it to the timeline. payload is
// marshaled with the standard library encoder; callers pass a concrete
// event-kind struct (e.g. AttackPayload) matching kind.
func (t *Timeline) Append(timeMS int64, kind EventKind, cause Cause, payload any) (Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("timeline: marshal %s payload: %w", kind, err)
	}
	e := Entry{
		TimeMS:  timeMS,
		Seq:     t.nextSeq,
		Cause:   cause,
		Kind:    kind,
		Payload: raw,
	}
	t.nextSeq++
	t.entries = append(t.entries, e)
	return e, nil
}

func (t *Timeline) Entries() []Entry {
	return t.entries
}

func (t *Timeline) Len() int {
	return len(t.entries)
}

// MarshalJSON renders the stable, versioned wire form described in the
// external interface contract: {version, entries:[{time_ms, seq, cause, event}]}.
func (t *Timeline) MarshalJSON() ([]byte, error) {
	out := struct {
		Version int         `json:"version"`
		Entries []wireEntry `json:"entries"`
	}{Version: t.Version}

	for _, e := range t.entries {
		eventEnvelope, err := json.Marshal(struct {
			Type    EventKind       `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}{Type: e.Kind, Payload: e.Payload})
		if err != nil {
			return nil, err
		}
		wc := wireCause{CauseType: e.Cause.Type}
		if e.Cause.Type == "parent" {
			wc.Seq = e.Cause.ParentSeq
		} else {
			wc.Kind = e.Cause.Kind
		}
		out.Entries = append(out.Entries, wireEntry{
			TimeMS: e.TimeMS,
			Seq:    e.Seq,
			Cause:  wc,
			Event:  eventEnvelope,
		})
	}
	return json.Marshal(out)
}

// Concrete payload shapes. The tagged union lives at the Entry.Kind level;
// these are the types callers marshal into Entry.Payload and unmarshal back
// out of it once they've switched on Kind.

type BattleStartPayload struct {
	Width, Height uint8
}

type ArtifactSpawnedPayload struct {
	Owner      string
	InstanceID uuid.UUID
	BaseUUID   uuid.UUID
}

type ItemSpawnedPayload struct {
	Owner      string
	InstanceID uuid.UUID
	BaseUUID   uuid.UUID
	HolderID   uuid.UUID
}

type UnitSpawnedPayload struct {
	Owner      string
	InstanceID uuid.UUID
	BaseUUID   uuid.UUID
	X, Y       uint8
}

// AttackKind distinguishes an autonomous basic attack from one triggered by
// an ability or on-hit effect.
type AttackKind string

const (
	AttackAuto      AttackKind = "auto"
	AttackTriggered AttackKind = "triggered"
)

type AttackPayload struct {
	Kind       AttackKind
	AttackerID uuid.UUID
	DefenderID uuid.UUID
}

type AutoCastStartPayload struct {
	InstanceID uuid.UUID
}

type AutoCastEndPayload struct {
	InstanceID uuid.UUID
}

type AbilityCastPayload struct {
	InstanceID uuid.UUID
	AbilityID  string
}

type BuffAppliedPayload struct {
	CasterID   uuid.UUID
	TargetID   uuid.UUID
	BuffID     string
	Stacks     int
	ExpiresAt  int64
}

type BuffTickPayload struct {
	CasterID uuid.UUID
	TargetID uuid.UUID
	BuffID   string
}

type BuffExpiredPayload struct {
	CasterID uuid.UUID
	TargetID uuid.UUID
	BuffID   string
}

// HpChangeReason distinguishes a basic-attack hp delta from a buff/ability
// command-driven one (heals, dots).
type HpChangeReason string

const (
	HpChangeBasicAttack HpChangeReason = "basic_attack"
	HpChangeCommand     HpChangeReason = "command"
)

type HpChangedPayload struct {
	InstanceID uuid.UUID
	Reason     HpChangeReason
	Delta      int
	HpBefore   int
	HpAfter    int
}

type StatChangedPayload struct {
	InstanceID  uuid.UUID
	Field       string
	ValueBefore int
	ValueAfter  int
}

type UnitDiedPayload struct {
	InstanceID uuid.UUID
}

// BattleWinner is the outcome side recorded at BattleEnd.
type BattleWinner string

const (
	WinnerPlayer   BattleWinner = "player"
	WinnerOpponent BattleWinner = "opponent"
	WinnerDraw     BattleWinner = "draw"
)

type BattleEndPayload struct {
	Winner BattleWinner
}

// Decode unmarshals an entry's Payload into dst, which must be a pointer to
// the struct matching e.Kind.
func (e Entry) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}
