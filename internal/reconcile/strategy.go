package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/tally-reconcile/internal/model"
)

// ErrUnknownStrategy is returned for an unrecognized strategy name.
var ErrUnknownStrategy = errors.New("unknown resolution strategy")

// Strategy names.
const (
	StrategyOverride = "override"
	StrategySum      = "sum"
)

// Strategy decides the final count of a cell whose human figure is verified.
// Cells without human verification never reach a strategy.
type Strategy interface {
	Name() string
	Resolve(pair model.CountPair) (final int64, source model.Source, note string)
}

// StrategyByName returns the named strategy.
func StrategyByName(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyOverride:
		return OverrideStrategy{}, nil
	case StrategySum:
		return SumStrategy{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// OverrideStrategy treats the human stream as the authoritative correction
// layer: agreeing streams keep the machine source, any disagreement takes the
// human figure.
type OverrideStrategy struct{}

// Name implements Strategy.
func (OverrideStrategy) Name() string { return StrategyOverride }

// Resolve implements Strategy.
func (OverrideStrategy) Resolve(pair model.CountPair) (int64, model.Source, string) {
	if pair.Delta() == 0 {
		return pair.Machine, model.SourceMachine, "sources agree"
	}
	return pair.Human, model.SourceHuman,
		fmt.Sprintf("human verification supersedes machine count %d (delta %+d)", pair.Machine, pair.Delta())
}

// SumStrategy reads the two columns as disjoint ballot piles, machine-classified
// and set aside for manual re-check, and adds them.
type SumStrategy struct{}

// Name implements Strategy.
func (SumStrategy) Name() string { return StrategySum }

// Resolve implements Strategy.
func (SumStrategy) Resolve(pair model.CountPair) (int64, model.Source, string) {
	if pair.Human == 0 {
		return pair.Machine, model.SourceMachine, "no manually re-checked ballots"
	}
	return pair.Machine + pair.Human, model.SourceReconciled,
		fmt.Sprintf("machine %d + human %d", pair.Machine, pair.Human)
}
