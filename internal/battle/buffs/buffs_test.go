package buffs

import (
	"testing"

	"github.com/google/uuid"

	"github.com/nexus-arena/core/internal/battle/runtime"
	"github.com/nexus-arena/core/internal/battle/stats"
	"github.com/nexus-arena/core/internal/battle/timeline"
)

func newTestUnit() *runtime.RuntimeUnit {
	return runtime.NewUnit(uuid.New(), uuid.New(), "player", stats.WithValues(100, 10, 5, 1000), 100, 2000)
}

func TestApplyAddStackIncrementsUpToMax(t *testing.T) {
	tl := timeline.New()
	u := newTestUnit()
	caster := uuid.New()
	def := Definition{BuffID: "power_surge", Policy: AddStack, MaxStacks: 2, DurationMS: 5000}

	for i := 0; i < 3; i++ {
		if err := Apply(tl, timeline.Root(timeline.CauseSystem), 0, caster, u, def); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if Stacks(u, caster, "power_surge") != 2 {
		t.Fatalf("expected stacks capped at max=2, got %d", Stacks(u, caster, "power_surge"))
	}
}

func TestApplyFromDifferentCastersDoNotCollide(t *testing.T) {
	tl := timeline.New()
	u := newTestUnit()
	casterA, casterB := uuid.New(), uuid.New()
	def := Definition{BuffID: "power_surge", Policy: AddStack, MaxStacks: 5, DurationMS: 5000}

	_ = Apply(tl, timeline.Root(timeline.CauseSystem), 0, casterA, u, def)
	_ = Apply(tl, timeline.Root(timeline.CauseSystem), 0, casterB, u, def)

	if Stacks(u, casterA, "power_surge") != 1 {
		t.Fatalf("expected caster A's instance at 1 stack, got %d", Stacks(u, casterA, "power_surge"))
	}
	if Stacks(u, casterB, "power_surge") != 1 {
		t.Fatalf("expected caster B's instance at 1 stack, got %d", Stacks(u, casterB, "power_surge"))
	}
}

func TestApplyReplaceResetsStacks(t *testing.T) {
	tl := timeline.New()
	u := newTestUnit()
	caster := uuid.New()
	addDef := Definition{BuffID: "frenzy", Policy: AddStack, MaxStacks: 5, DurationMS: 5000}
	replaceDef := Definition{BuffID: "frenzy", Policy: Replace, DurationMS: 5000}

	for i := 0; i < 3; i++ {
		_ = Apply(tl, timeline.Root(timeline.CauseSystem), 0, caster, u, addDef)
	}
	if err := Apply(tl, timeline.Root(timeline.CauseSystem), 0, caster, u, replaceDef); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Stacks(u, caster, "frenzy") != 1 {
		t.Fatalf("expected Replace to reset stacks to 1, got %d", Stacks(u, caster, "frenzy"))
	}
}

func TestApplyIgnoreIfPresentIsNoOp(t *testing.T) {
	tl := timeline.New()
	u := newTestUnit()
	caster := uuid.New()
	def := Definition{BuffID: "guard", Policy: IgnoreIfPresent, DurationMS: 5000}

	_ = Apply(tl, timeline.Root(timeline.CauseSystem), 0, caster, u, def)
	before := tl.Len()
	_ = Apply(tl, timeline.Root(timeline.CauseSystem), 1000, caster, u, def)
	if tl.Len() != before {
		t.Fatalf("expected no new timeline entries on re-apply with IgnoreIfPresent, got %d new", tl.Len()-before)
	}
}

func TestExpireRevertsStatModifierExactly(t *testing.T) {
	tl := timeline.New()
	u := newTestUnit()
	originalAttack := u.Stats.Attack
	caster := uuid.New()

	mod := stats.Modifier{Target: stats.TargetAttack, Op: stats.OpPercent, Percent: 50}
	def := Definition{BuffID: "rage", Policy: Replace, DurationMS: 1000, StatModifier: &mod}
	defs := map[string]Definition{"rage": def}

	if err := Apply(tl, timeline.Root(timeline.CauseSystem), 0, caster, u, def); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Stats.Attack == originalAttack {
		t.Fatal("expected attack modifier to change the stat on apply")
	}

	if _, err := ExpireDue(tl, timeline.Root(timeline.CauseSystem), 1000, u, defs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Stats.Attack != originalAttack {
		t.Fatalf("expected attack to be restored to %d after expiry, got %d", originalAttack, u.Stats.Attack)
	}
}

func TestExpireDueOnlyRemovesExpiredBuffs(t *testing.T) {
	tl := timeline.New()
	u := newTestUnit()
	caster := uuid.New()
	short := Definition{BuffID: "short", Policy: Replace, DurationMS: 100}
	long := Definition{BuffID: "long", Policy: Replace, DurationMS: 10000}
	_ = Apply(tl, timeline.Root(timeline.CauseSystem), 0, caster, u, short)
	_ = Apply(tl, timeline.Root(timeline.CauseSystem), 0, caster, u, long)

	expired, err := ExpireDue(tl, timeline.Root(timeline.CauseSystem), 500, u, map[string]Definition{"short": short, "long": long})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(expired) != 1 || expired[0] != "short" {
		t.Fatalf("expected only 'short' to expire at t=500, got %v", expired)
	}
	if !Active(u, "long") {
		t.Fatal("expected 'long' buff to remain active")
	}
}
