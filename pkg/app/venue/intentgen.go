package venue

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/uhyunpark/agentvenue/pkg/app/core"
)

// IntentGenerator creates random intents around a drifting base price.
// It is not safe for concurrent use.
type IntentGenerator struct {
	agents []string
	rng    *rand.Rand
	base   float64
	spread float64 // max relative distance of a limit from base
	maxQty float64
	drift  float64 // max relative move of base per Step

	generated int
}

func NewIntentGenerator(numAgents int, base, spread, maxQty float64, seed int64) *IntentGenerator {
	if numAgents < 1 {
		numAgents = 1
	}
	agents := make([]string, numAgents)
	for i := range agents {
		agents[i] = fmt.Sprintf("agent_%d", i+1)
	}
	return &IntentGenerator{
		agents: agents,
		rng:    rand.New(rand.NewSource(seed)),
		base:   base,
		spread: spread,
		maxQty: math.Max(maxQty, 1),
		drift:  spread / 10,
	}
}

func (g *IntentGenerator) Base() float64 { return g.base }

// Step moves the base price by a bounded random fraction and returns it.
func (g *IntentGenerator) Step() float64 {
	g.base *= 1 + (g.rng.Float64()*2-1)*g.drift
	return g.base
}

// Generate picks a random agent, side and type: 70% LMT, 20% IOC, 10% MKT.
func (g *IntentGenerator) Generate() Intent {
	in := Intent{
		AgentID: g.agents[g.rng.Intn(len(g.agents))],
		Side:    core.Buy,
		Qty:     math.Min(g.maxQty, 1+math.Floor(g.rng.Float64()*g.maxQty)),
	}
	if g.rng.Intn(2) == 1 {
		in.Side = core.Sell
	}

	r := g.rng.Intn(100)
	switch {
	case r < 70:
		in.Type = core.Limit.String()
	case r < 90:
		in.Type = core.IOC.String()
	default:
		in.Type = core.Market.String()
		g.generated++
		return in
	}
	px := g.base * (1 + (g.rng.Float64()*2-1)*g.spread)
	in.Limit = &px
	g.generated++
	return in
}

func (g *IntentGenerator) GenerateBatch(count int) []Intent {
	batch := make([]Intent, count)
	for i := range batch {
		batch[i] = g.Generate()
	}
	return batch
}

// Generated is the number of intents produced so far.
func (g *IntentGenerator) Generated() int { return g.generated }
