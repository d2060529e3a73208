package pipeline

import "sync"

// Gate is the pause signal the Asset Manager asserts around a coherent
// registry swap and the enrich stream blocks on before admitting a new
// record. It also tracks in-flight admissions so a pauser can wait for
// drain before swapping.
type Gate struct {
	mu       sync.Mutex
	paused   bool
	resume   chan struct{}
	inFlight sync.WaitGroup
}

// NewGate returns an open Gate.
func NewGate() *Gate {
	return &Gate{resume: make(chan struct{})}
}

// Enter blocks while the gate is paused, then marks one admission in
// flight. The caller must call the returned func when that admission's
// enrich call has completed.
func (g *Gate) Enter() (leave func()) {
	for {
		g.mu.Lock()
		if !g.paused {
			g.inFlight.Add(1)
			g.mu.Unlock()
			return g.inFlight.Done
		}
		resume := g.resume
		g.mu.Unlock()
		<-resume
	}
}

// Pause asserts the signal, blocking new admissions, then waits for every
// already-admitted call to finish.
func (g *Gate) Pause() {
	g.mu.Lock()
	g.paused = true
	g.mu.Unlock()
	g.inFlight.Wait()
}

// Resume de-asserts the signal and releases anything blocked in Enter.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resume)
	g.resume = make(chan struct{})
}
