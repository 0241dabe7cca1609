// Package usage tracks token consumption per query and per process session.
package usage

import (
	"fmt"
	"sync/atomic"
)

// Usage is a pair of token counts reported by the model.
type Usage struct {
	InputTokens  int64 `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int64 `json:"output_tokens" yaml:"output_tokens"`
}

// Add returns the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Total is input plus output tokens.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Cost prices u in dollars.
func (u Usage) Cost(p Pricing) float64 {
	return float64(u.InputTokens)/1e6*p.InputPerMTok + float64(u.OutputTokens)/1e6*p.OutputPerMTok
}

func (u Usage) String() string {
	return fmt.Sprintf("in=%d out=%d", u.InputTokens, u.OutputTokens)
}

// Pricing is the dollar price per million tokens.
type Pricing struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

// DefaultPricing matches claude-3-5-haiku list prices.
var DefaultPricing = Pricing{InputPerMTok: 0.8, OutputPerMTok: 4.0}

// Accounting is the running total for one chat process. The zero value is
// ready to use. Counters only grow between explicit resets.
type Accounting struct {
	input  atomic.Int64
	output atomic.Int64
}

// NewAccounting returns zeroed counters.
func NewAccounting() *Accounting { return &Accounting{} }

// Add increments both counters. Negative counts are ignored so the totals
// never decrease outside Reset.
func (a *Accounting) Add(u Usage) {
	if u.InputTokens > 0 {
		a.input.Add(u.InputTokens)
	}
	if u.OutputTokens > 0 {
		a.output.Add(u.OutputTokens)
	}
}

// Reset zeroes both counters.
func (a *Accounting) Reset() {
	a.input.Store(0)
	a.output.Store(0)
}

// SessionUsage returns the current totals.
func (a *Accounting) SessionUsage() Usage {
	return Usage{InputTokens: a.input.Load(), OutputTokens: a.output.Load()}
}
