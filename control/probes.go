// control/probes.go
// Author: momentics <momentics@gmail.com>
//
// Probe registry for internal inspection. Probes are registered at loop
// construction and evaluated on the loop goroutine.

package control

// ProbeRegistry holds registered probe functions.
type ProbeRegistry struct {
	names  []string
	probes map[string]func() any
}

// NewProbeRegistry creates a probe registry.
func NewProbeRegistry() *ProbeRegistry {
	return &ProbeRegistry{probes: make(map[string]func() any)}
}

// Register inserts a named probe; a repeated name replaces the previous
// probe.
func (pr *ProbeRegistry) Register(name string, fn func() any) {
	if _, ok := pr.probes[name]; !ok {
		pr.names = append(pr.names, name)
	}
	pr.probes[name] = fn
}

// Dump returns the output of all probes.
func (pr *ProbeRegistry) Dump() map[string]any {
	out := make(map[string]any, len(pr.names))
	for _, name := range pr.names {
		out[name] = pr.probes[name]()
	}
	return out
}
