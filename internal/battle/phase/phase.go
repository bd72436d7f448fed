// Package phase provides the minimal single-battle orchestration carved out
// of the full meta-progression loop: building a catalog-backed battle,
// running it, and validating/replaying the result in one call. It does not
// manage matches, rewards, or persistence across battles.
package phase

import (
	"fmt"

	"github.com/nexus-arena/core/internal/battle/deck"
	"github.com/nexus-arena/core/internal/battle/engine"
	"github.com/nexus-arena/core/internal/battle/gamedata"
	"github.com/nexus-arena/core/internal/battle/replayer"
	"github.com/nexus-arena/core/internal/battle/timeline"
	"github.com/nexus-arena/core/internal/battle/validator"
)

// Outcome bundles everything a caller of a single battle phase needs.
type Outcome struct {
	Timeline *timeline.Timeline
	Result   engine.BattleResult

	StructuralViolations []validator.Violation
	ReplayViolations     []replayer.Violation
}

// RunAndVerify executes one battle and immediately verifies it against its
// own timeline. A non-empty violation list does not stop the caller from
// inspecting Timeline/Result, but it does mean the battle failed its own
// determinism contract and should not be trusted by downstream consumers.
func RunAndVerify(playerDeck, opponentDeck deck.Deck, catalog *gamedata.Catalog, cfg engine.Config) (Outcome, error) {
	tl, result, err := engine.Run(playerDeck, opponentDeck, catalog, cfg)
	if err != nil {
		return Outcome{}, fmt.Errorf("phase: battle run failed: %w", err)
	}

	return Outcome{
		Timeline:             tl,
		Result:               result,
		StructuralViolations: validator.Validate(tl),
		ReplayViolations:     replayer.Replay(tl, catalog, playerDeck, opponentDeck, uint8(cfg.Width), uint8(cfg.Height), replayer.Options{StrictMode: true}),
	}, nil
}
