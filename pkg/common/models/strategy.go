package models

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy reduces the records matched for a field on one day to one value.
type Strategy string

const (
	StrategyNearest Strategy = "nearest"
	StrategyMedian  Strategy = "median"
	StrategyMean    Strategy = "mean"
	StrategyFirst   Strategy = "first"
	StrategyLast    Strategy = "last"
)

var ErrUnknownStrategy = errors.New("unknown value strategy")

func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyNearest, StrategyMedian, StrategyMean, StrategyFirst, StrategyLast:
		return st, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownStrategy)
	}
}

// Numeric reports whether the strategy only considers numeric values.
func (s Strategy) Numeric() bool {
	return s == StrategyMedian || s == StrategyMean
}
