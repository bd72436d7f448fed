// Package stats holds the integer-only unit stat block and the modifier
// pipeline used to compute effective stats during deck binding.
package stats

// UnitStats is the full integer stat block for a runtime unit. There is no
// floating point anywhere in the battle engine's state transitions.
type UnitStats struct {
	MaxHealth       int
	CurrentHealth   int
	Attack          int
	Defense         int
	AttackIntervalMS int64
}

func WithValues(maxHealth, attack, defense int, attackIntervalMS int64) UnitStats {
	return UnitStats{
		MaxHealth:        maxHealth,
		CurrentHealth:    maxHealth,
		Attack:           attack,
		Defense:          defense,
		AttackIntervalMS: attackIntervalMS,
	}
}

func (s *UnitStats) AddAttack(delta int) {
	s.Attack += delta
}

// ModifierTarget selects which field of UnitStats a modifier affects.
type ModifierTarget string

const (
	TargetMaxHealth       ModifierTarget = "max_health"
	TargetAttack          ModifierTarget = "attack"
	TargetDefense         ModifierTarget = "defense"
	TargetAttackInterval  ModifierTarget = "attack_interval_ms"
)

// ModifierOp is either an additive flat amount or a percent-of-current-value
// bump. Percent modifiers are resolved against the stat value as accumulated
// by the layers applied so far -- the binder never re-orders or collapses
// layers to operate against the original base value.
type ModifierOp string

const (
	OpFlat    ModifierOp = "flat"
	OpPercent ModifierOp = "percent"
)

// Modifier is one entry in a record's declared modifier list. Records (equipment,
// artifacts) carry an ordered slice of these; they are applied in list order.
type Modifier struct {
	Target  ModifierTarget
	Op      ModifierOp
	Flat    int
	Percent int // percent points, e.g. 15 == +15%
}

// ApplyModifiers applies modifiers strictly in slice order, each one seeing
// the cumulative effect of every modifier applied before it.
func (s *UnitStats) ApplyModifiers(mods []Modifier) {
	for _, m := range mods {
		s.applyOne(m)
	}
}

func (s *UnitStats) applyOne(m Modifier) {
	if m.Target == TargetAttackInterval {
		v := s.AttackIntervalMS
		switch m.Op {
		case OpFlat:
			v += int64(m.Flat)
		case OpPercent:
			v += (v * int64(m.Percent)) / 100
		}
		s.AttackIntervalMS = v
		return
	}

	cur := s.fieldPtr(m.Target)
	if cur == nil {
		return
	}
	switch m.Op {
	case OpFlat:
		*cur += m.Flat
	case OpPercent:
		*cur += (*cur * m.Percent) / 100
	}
}

func (s *UnitStats) fieldPtr(t ModifierTarget) *int {
	switch t {
	case TargetMaxHealth:
		return &s.MaxHealth
	case TargetAttack:
		return &s.Attack
	case TargetDefense:
		return &s.Defense
	default:
		return nil
	}
}
