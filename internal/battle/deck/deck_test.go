package deck

import (
	"testing"

	"github.com/google/uuid"

	"github.com/nexus-arena/core/internal/battle/gamedata"
	"github.com/nexus-arena/core/internal/battle/stats"
	"github.com/nexus-arena/core/internal/battle/timeline"
)

func TestBuildScopesArtifactModifiersToTheirOwner(t *testing.T) {
	playerBase, opponentBase := uuid.New(), uuid.New()
	artifact := uuid.New()
	catalog := &gamedata.Catalog{
		Abnormalities: map[uuid.UUID]gamedata.AbnormalityMetadata{
			playerBase:   {BaseUUID: playerBase, MaxHealth: 50, Attack: 10, AttackIntervalMS: 500},
			opponentBase: {BaseUUID: opponentBase, MaxHealth: 50, Attack: 10, AttackIntervalMS: 500},
		},
		Equipment: map[uuid.UUID]gamedata.EquipmentMetadata{},
		Artifacts: map[uuid.UUID]gamedata.ArtifactMetadata{
			artifact: {BaseUUID: artifact, Modifiers: []stats.Modifier{
				{Target: stats.TargetAttack, Op: stats.OpFlat, Flat: 100},
			}},
		},
	}

	playerDeck := Deck{
		Owner:     "player",
		Units:     []UnitSpec{{BaseUUID: playerBase}},
		Artifacts: []uuid.UUID{artifact},
	}
	opponentDeck := Deck{
		Owner: "opponent",
		Units: []UnitSpec{{BaseUUID: opponentBase, X: 1}},
	}

	tl := timeline.New()
	ents, _, err := Build(tl, playerDeck, opponentDeck, catalog, 4, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var playerUnit, opponentUnit = ents.Units[0], ents.Units[1]
	if playerUnit.Owner != "player" {
		playerUnit, opponentUnit = ents.Units[1], ents.Units[0]
	}

	if playerUnit.Stats.Attack != 110 {
		t.Fatalf("expected player's own artifact modifier to apply, attack=110, got %d", playerUnit.Stats.Attack)
	}
	if opponentUnit.Stats.Attack != 10 {
		t.Fatalf("expected opponent's unit to be unaffected by player's artifact, got attack=%d", opponentUnit.Stats.Attack)
	}
}

func TestBuildResyncsCurrentHealthAfterModifiers(t *testing.T) {
	base := uuid.New()
	equip := uuid.New()
	catalog := &gamedata.Catalog{
		Abnormalities: map[uuid.UUID]gamedata.AbnormalityMetadata{
			base: {BaseUUID: base, MaxHealth: 50, Attack: 10, AttackIntervalMS: 500},
		},
		Equipment: map[uuid.UUID]gamedata.EquipmentMetadata{
			equip: {BaseUUID: equip, Modifiers: []stats.Modifier{
				{Target: stats.TargetMaxHealth, Op: stats.OpFlat, Flat: 50},
			}},
		},
		Artifacts: map[uuid.UUID]gamedata.ArtifactMetadata{},
	}

	playerDeck := Deck{
		Owner: "player",
		Units: []UnitSpec{{BaseUUID: base, Equipment: []uuid.UUID{equip}}},
	}
	opponentDeck := Deck{
		Owner: "opponent",
		Units: []UnitSpec{{BaseUUID: base, X: 1}},
	}

	tl := timeline.New()
	ents, _, err := Build(tl, playerDeck, opponentDeck, catalog, 4, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, u := range ents.Units {
		if u.Owner != "player" {
			continue
		}
		if u.Stats.MaxHealth != 100 {
			t.Fatalf("expected max_health 100 after equipment modifier, got %d", u.Stats.MaxHealth)
		}
		if u.Stats.CurrentHealth != u.Stats.MaxHealth {
			t.Fatalf("expected current_health to resync to the fully-modified max_health=%d, got %d", u.Stats.MaxHealth, u.Stats.CurrentHealth)
		}
	}
}
