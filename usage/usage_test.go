package usage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsageAdd(t *testing.T) {
	a := Usage{InputTokens: 120, OutputTokens: 30}
	b := Usage{InputTokens: 200, OutputTokens: 45}

	sum := a.Add(b)
	assert.Equal(t, Usage{InputTokens: 320, OutputTokens: 75}, sum)
	assert.Equal(t, int64(395), sum.Total())
	// Add returns a new value.
	assert.Equal(t, int64(120), a.InputTokens)
}

func TestUsageCost(t *testing.T) {
	u := Usage{InputTokens: 1_000_000, OutputTokens: 500_000}
	assert.InDelta(t, 0.8+2.0, u.Cost(DefaultPricing), 1e-9)
	assert.Zero(t, Usage{}.Cost(DefaultPricing))
}

func TestAccountingSumsQueries(t *testing.T) {
	acct := NewAccounting()
	queries := []Usage{
		{InputTokens: 10, OutputTokens: 5},
		{InputTokens: 7, OutputTokens: 3},
		{InputTokens: 100, OutputTokens: 40},
	}

	var want Usage
	prev := acct.SessionUsage()
	for _, q := range queries {
		acct.Add(q)
		want = want.Add(q)

		got := acct.SessionUsage()
		assert.GreaterOrEqual(t, got.InputTokens, prev.InputTokens)
		assert.GreaterOrEqual(t, got.OutputTokens, prev.OutputTokens)
		prev = got
	}
	assert.Equal(t, want, acct.SessionUsage())

	acct.Reset()
	assert.Equal(t, Usage{}, acct.SessionUsage())
}

func TestAccountingIgnoresNegativeCounts(t *testing.T) {
	acct := NewAccounting()
	acct.Add(Usage{InputTokens: 5, OutputTokens: 5})
	acct.Add(Usage{InputTokens: -3, OutputTokens: -1})
	assert.Equal(t, Usage{InputTokens: 5, OutputTokens: 5}, acct.SessionUsage())
}

func TestAccountingConcurrentAdds(t *testing.T) {
	var acct Accounting
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acct.Add(Usage{InputTokens: 2, OutputTokens: 1})
		}()
	}
	wg.Wait()
	assert.Equal(t, Usage{InputTokens: 100, OutputTokens: 50}, acct.SessionUsage())
}
