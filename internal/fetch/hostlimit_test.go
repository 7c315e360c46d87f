package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGovernorPenalizeGrowsDelay(t *testing.T) {
	g := newHostGovernor(time.Second, 2.0, time.Minute)

	assert.Equal(t, time.Second, g.Delay("a.example"))

	g.Penalize("a.example")
	assert.Equal(t, 2*time.Second, g.Delay("a.example"))

	g.Penalize("a.example")
	assert.Equal(t, 4*time.Second, g.Delay("a.example"))

	// Other hosts are unaffected.
	assert.Equal(t, time.Second, g.Delay("b.example"))
}

func TestGovernorPenalizeCapped(t *testing.T) {
	g := newHostGovernor(time.Second, 10.0, 30*time.Second)

	for i := 0; i < 5; i++ {
		g.Penalize("a.example")
	}
	assert.Equal(t, 30*time.Second, g.Delay("a.example"))
}

func TestGovernorRewardResets(t *testing.T) {
	g := newHostGovernor(time.Second, 2.0, time.Minute)

	g.Penalize("a.example")
	g.Penalize("a.example")
	assert.Equal(t, 4*time.Second, g.Delay("a.example"))

	g.Reward("a.example")
	assert.Equal(t, time.Second, g.Delay("a.example"))
}
