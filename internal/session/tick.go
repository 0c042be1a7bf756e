package session

import (
	"time"

	"farmersfright.gg/internal/game"
)

// Advance runs one tick: passive income, then kinematics for moving and
// attack-moving units. No damage is resolved here.
func (s *State) Advance(now time.Time) {
	if !s.running {
		return
	}
	for _, id := range s.PlayerIDs() {
		p := s.players[id]
		last := p.LastIncome
		if last.IsZero() {
			last = s.startedAt
		}
		if now.Sub(last) >= s.rules.IncomeInterval {
			p.Resources += s.rules.IncomeAmount
			p.LastIncome = now
		}
	}

	for _, o := range s.objects {
		if !o.Type.IsUnit() {
			continue
		}
		if o.Speed == nil || *o.Speed <= 0 {
			o.Speed = game.Ptr(o.EffectiveSpeed())
		}
		switch o.CommandState {
		case game.Moving:
			if o.TargetX == nil || o.TargetY == nil {
				continue
			}
			next, arrived := game.Step(o.Pos(), game.Point{X: *o.TargetX, Y: *o.TargetY}, *o.Speed)
			o.SetPos(next)
			if arrived {
				o.CommandState = game.Idle
			}
		case game.AttackMoving:
			if o.AMoveTargetX == nil || o.AMoveTargetY == nil {
				continue
			}
			next, _ := game.Step(o.Pos(), game.Point{X: *o.AMoveTargetX, Y: *o.AMoveTargetY}, *o.Speed)
			o.SetPos(next)
		}
	}
}
