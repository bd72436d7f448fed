package replayer

import (
	"testing"

	"github.com/google/uuid"

	"github.com/nexus-arena/core/internal/battle/deck"
	"github.com/nexus-arena/core/internal/battle/engine"
	"github.com/nexus-arena/core/internal/battle/gamedata"
	"github.com/nexus-arena/core/internal/battle/timeline"
)

func minimalCatalog(playerBase, opponentBase uuid.UUID) *gamedata.Catalog {
	return &gamedata.Catalog{
		Abnormalities: map[uuid.UUID]gamedata.AbnormalityMetadata{
			playerBase:   {BaseUUID: playerBase, MaxHealth: 30, Attack: 20, AttackIntervalMS: 500, ResonanceMax: 100},
			opponentBase: {BaseUUID: opponentBase, MaxHealth: 30, Attack: 5, AttackIntervalMS: 500, ResonanceMax: 100},
		},
		Equipment: map[uuid.UUID]gamedata.EquipmentMetadata{},
		Artifacts: map[uuid.UUID]gamedata.ArtifactMetadata{},
	}
}

func runMinimalBattle(t *testing.T) (*timeline.Timeline, *gamedata.Catalog, deck.Deck, deck.Deck) {
	t.Helper()
	playerBase, opponentBase := uuid.New(), uuid.New()
	catalog := minimalCatalog(playerBase, opponentBase)
	playerDeck := deck.Deck{Owner: "player", Units: []deck.UnitSpec{{BaseUUID: playerBase}}}
	opponentDeck := deck.Deck{Owner: "opponent", Units: []deck.UnitSpec{{BaseUUID: opponentBase, X: 1}}}

	tl, _, err := engine.Run(playerDeck, opponentDeck, catalog, engine.Config{Width: 4, Height: 4, MaxTimeMS: 60_000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tl, catalog, playerDeck, opponentDeck
}

func TestReplayAcceptsEngineOutput(t *testing.T) {
	tl, catalog, playerDeck, opponentDeck := runMinimalBattle(t)

	violations := Replay(tl, catalog, playerDeck, opponentDeck, 4, 4, Options{StrictMode: true})
	if len(violations) != 0 {
		t.Fatalf("expected the engine's own output to replay clean, got %v", violations)
	}
}

func TestReplayFlagsTamperedAttackDamage(t *testing.T) {
	tl, catalog, playerDeck, opponentDeck := runMinimalBattle(t)

	entries := tl.Entries()
	tampered := timeline.New()
	for _, e := range entries {
		if e.Kind == timeline.EventHpChanged {
			var p timeline.HpChangedPayload
			if err := e.Decode(&p); err == nil && p.Reason == timeline.HpChangeBasicAttack {
				p.Delta -= 1000
				p.HpAfter = p.HpBefore + p.Delta
				if _, err := tampered.Append(e.TimeMS, e.Kind, e.Cause, p); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				continue
			}
		}
		if _, err := tampered.Append(e.TimeMS, e.Kind, e.Cause, decodeRaw(t, e)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	violations := Replay(tampered, catalog, playerDeck, opponentDeck, 4, 4, Options{StrictMode: true})
	if len(violations) == 0 {
		t.Fatal("expected tampered attack damage to be flagged")
	}
	found := false
	for _, v := range violations {
		if v.Kind == ViolationUnpredictedDamage {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an unpredicted_damage violation, got %v", violations)
	}
}

func TestReplayFlagsUnknownTarget(t *testing.T) {
	catalog := &gamedata.Catalog{
		Abnormalities: map[uuid.UUID]gamedata.AbnormalityMetadata{},
		Equipment:     map[uuid.UUID]gamedata.EquipmentMetadata{},
		Artifacts:     map[uuid.UUID]gamedata.ArtifactMetadata{},
	}
	playerDeck := deck.Deck{Owner: "player"}
	opponentDeck := deck.Deck{Owner: "opponent"}

	tl := timeline.New()
	if _, err := tl.Append(0, timeline.EventAttack, timeline.Root(timeline.CausePeriod), timeline.AttackPayload{
		Kind: timeline.AttackAuto, AttackerID: uuid.New(), DefenderID: uuid.New(),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	violations := Replay(tl, catalog, playerDeck, opponentDeck, 4, 4, Options{})
	if len(violations) != 2 {
		t.Fatalf("expected two unknown_target violations (attacker and defender), got %v", violations)
	}
}

func TestReplayStrictModeFlagsUnrecognizedCause(t *testing.T) {
	tl, catalog, playerDeck, opponentDeck := runMinimalBattle(t)
	var attackerID uuid.UUID
	for _, e := range tl.Entries() {
		if e.Kind == timeline.EventUnitSpawned {
			var p timeline.UnitSpawnedPayload
			if err := e.Decode(&p); err == nil && p.Owner == "player" {
				attackerID = p.InstanceID
				break
			}
		}
	}

	rogue := timeline.New()
	for _, e := range tl.Entries() {
		if _, err := rogue.Append(e.TimeMS, e.Kind, e.Cause, decodeRaw(t, e)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := rogue.Append(0, timeline.EventHpChanged, timeline.Parent(999999), timeline.HpChangedPayload{
		InstanceID: attackerID, Reason: timeline.HpChangeCommand, Delta: 0, HpBefore: 0, HpAfter: 0,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	strict := Replay(rogue, catalog, playerDeck, opponentDeck, 4, 4, Options{StrictMode: true})
	lenient := Replay(rogue, catalog, playerDeck, opponentDeck, 4, 4, Options{StrictMode: false})

	foundStrict := false
	for _, v := range strict {
		if v.Kind == ViolationUnrecognizedCause {
			foundStrict = true
		}
	}
	if !foundStrict {
		t.Fatalf("expected StrictMode to flag an unrecognized parent cause, got %v", strict)
	}
	for _, v := range lenient {
		if v.Kind == ViolationUnrecognizedCause {
			t.Fatalf("expected non-strict mode not to flag an unrecognized cause, got %v", lenient)
		}
	}
}

// decodeRaw round-trips e's payload through its concrete type so a copied
// entry re-marshals identically instead of carrying a stale json.RawMessage
// the new Append call would double-encode.
func decodeRaw(t *testing.T, e timeline.Entry) any {
	t.Helper()
	switch e.Kind {
	case timeline.EventBattleStart:
		var p timeline.BattleStartPayload
		_ = e.Decode(&p)
		return p
	case timeline.EventArtifactSpawned:
		var p timeline.ArtifactSpawnedPayload
		_ = e.Decode(&p)
		return p
	case timeline.EventItemSpawned:
		var p timeline.ItemSpawnedPayload
		_ = e.Decode(&p)
		return p
	case timeline.EventUnitSpawned:
		var p timeline.UnitSpawnedPayload
		_ = e.Decode(&p)
		return p
	case timeline.EventAttack:
		var p timeline.AttackPayload
		_ = e.Decode(&p)
		return p
	case timeline.EventAutoCastStart:
		var p timeline.AutoCastStartPayload
		_ = e.Decode(&p)
		return p
	case timeline.EventAutoCastEnd:
		var p timeline.AutoCastEndPayload
		_ = e.Decode(&p)
		return p
	case timeline.EventAbilityCast:
		var p timeline.AbilityCastPayload
		_ = e.Decode(&p)
		return p
	case timeline.EventBuffApplied:
		var p timeline.BuffAppliedPayload
		_ = e.Decode(&p)
		return p
	case timeline.EventBuffTick:
		var p timeline.BuffTickPayload
		_ = e.Decode(&p)
		return p
	case timeline.EventBuffExpired:
		var p timeline.BuffExpiredPayload
		_ = e.Decode(&p)
		return p
	case timeline.EventHpChanged:
		var p timeline.HpChangedPayload
		_ = e.Decode(&p)
		return p
	case timeline.EventStatChanged:
		var p timeline.StatChangedPayload
		_ = e.Decode(&p)
		return p
	case timeline.EventUnitDied:
		var p timeline.UnitDiedPayload
		_ = e.Decode(&p)
		return p
	case timeline.EventBattleEnd:
		var p timeline.BattleEndPayload
		_ = e.Decode(&p)
		return p
	default:
		t.Fatalf("decodeRaw: unhandled event kind %s", e.Kind)
		return nil
	}
}
