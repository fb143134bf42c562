package engine

// hintGate grants at most one hint request per step.
type hintGate struct {
	step      int
	requested bool
	inFlight  bool
}

func (g *hintGate) reset(step int) {
	g.step = step
	g.requested = false
	g.inFlight = false
}

// acquire claims the step's single hint. It refuses once the step is
// answered, while a request is outstanding, or after the grant was used.
func (g *hintGate) acquire(step int, answered bool) bool {
	if g.step != step || answered || g.inFlight || g.requested {
		return false
	}
	g.requested = true
	g.inFlight = true
	return true
}

// release ends the outstanding request for step. It reports false when the
// gate has moved on to another step.
func (g *hintGate) release(step int) bool {
	if g.step != step {
		return false
	}
	g.inFlight = false
	return true
}

func (g *hintGate) available(step int, answered bool) bool {
	return g.step == step && !answered && !g.inFlight && !g.requested
}
