package stats

import "testing"

func TestApplyModifiersFlat(t *testing.T) {
	s := WithValues(100, 10, 5, 1000)
	s.ApplyModifiers([]Modifier{
		{Target: TargetAttack, Op: OpFlat, Flat: 5},
	})
	if s.Attack != 15 {
		t.Fatalf("expected attack 15, got %d", s.Attack)
	}
}

func TestApplyModifiersPercentCompounds(t *testing.T) {
	s := WithValues(100, 10, 5, 1000)
	s.ApplyModifiers([]Modifier{
		{Target: TargetAttack, Op: OpFlat, Percent: 0, Flat: 10}, // 10 -> 20
		{Target: TargetAttack, Op: OpPercent, Percent: 50},       // 20 -> 30
	})
	if s.Attack != 30 {
		t.Fatalf("expected layers to compound against accumulated value, got attack=%d", s.Attack)
	}
}

func TestApplyModifiersAttackInterval(t *testing.T) {
	s := WithValues(100, 10, 5, 1000)
	s.ApplyModifiers([]Modifier{
		{Target: TargetAttackInterval, Op: OpPercent, Percent: -20},
	})
	if s.AttackIntervalMS != 800 {
		t.Fatalf("expected attack_interval_ms 800, got %d", s.AttackIntervalMS)
	}
}

func TestAddAttack(t *testing.T) {
	s := WithValues(100, 10, 5, 1000)
	s.AddAttack(3)
	if s.Attack != 13 {
		t.Fatalf("expected attack 13, got %d", s.Attack)
	}
}
