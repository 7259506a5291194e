package task

import (
	"context"
	"sync/atomic"

	"github.com/Speedy6451/avarus/server/turtle"
	"github.com/Speedy6451/avarus/server/world"
)

func init() {
	RegisterTask("goto", func() Task { return &Goto{} })
}

// Goto is a one-shot task: route to Target, then report Complete.
type Goto struct {
	Target world.Position

	running atomic.Bool
	done    atomic.Bool
}

// NewGoto builds a Goto task for target.
func NewGoto(target world.Position) *Goto {
	return &Goto{Target: target}
}

// Tag identifies Goto to the persistence layer.
func (g *Goto) Tag() string { return "goto" }

func (g *Goto) Poll() PollResult {
	if g.done.Load() {
		return PollResult{State: Complete}
	}
	if g.running.Load() {
		return PollResult{State: Waiting}
	}
	return PollResult{State: Ready, Hint: g.Target}
}

func (g *Goto) Run(c *turtle.Commander) *Handle {
	target := g.Target
	g.running.Store(true)
	return spawn(context.Background(), func(ctx context.Context) {
		defer func() {
			g.running.Store(false)
			g.done.Store(true)
		}()
		c.Goto(ctx, target)
	})
}
