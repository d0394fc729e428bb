package metrics

import (
	"time"

	"github.com/piccolo-edge/piccolo/pkg/types"
)

// Source is the read surface Collector polls. NodeRegistry and StateStore
// both satisfy it; Collector is decoupled from their concrete types so it
// can be unit tested against a fake.
type Source interface {
	ListNodes() ([]*types.Node, error)
	ListScenarios() ([]*types.Scenario, error)
	ListPackages() ([]*types.Package, error)
	ListModels() ([]*types.Model, error)
	ListContainers() ([]*types.Container, error)
}

// Collector periodically samples cluster-wide gauges from a Source.
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector that samples source every interval.
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{source: source, interval: interval, stopCh: make(chan struct{})}
}

// Start begins the sampling loop in a new goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the sampling loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodes()
	c.collectScenarios()
	c.collectPackages()
	c.collectModels()
	c.collectContainers()
}

func (c *Collector) collectNodes() {
	nodes, err := c.source.ListNodes()
	if err != nil {
		return
	}
	counts := make(map[[2]string]int)
	for _, n := range nodes {
		counts[[2]string{string(n.Role), string(n.Liveness)}]++
	}
	NodesTotal.Reset()
	for k, v := range counts {
		NodesTotal.WithLabelValues(k[0], k[1]).Set(float64(v))
	}
}

func (c *Collector) collectScenarios() {
	scenarios, err := c.source.ListScenarios()
	if err != nil {
		return
	}
	counts := make(map[string]int)
	for _, s := range scenarios {
		counts[string(s.State)]++
	}
	ScenariosTotal.Reset()
	for state, n := range counts {
		ScenariosTotal.WithLabelValues(state).Set(float64(n))
	}
}

func (c *Collector) collectPackages() {
	packages, err := c.source.ListPackages()
	if err != nil {
		return
	}
	counts := make(map[string]int)
	for _, p := range packages {
		counts[string(p.State)]++
	}
	PackagesTotal.Reset()
	for state, n := range counts {
		PackagesTotal.WithLabelValues(state).Set(float64(n))
	}
}

func (c *Collector) collectModels() {
	models, err := c.source.ListModels()
	if err != nil {
		return
	}
	counts := make(map[string]int)
	for _, m := range models {
		counts[string(m.State)]++
	}
	ModelsTotal.Reset()
	for state, n := range counts {
		ModelsTotal.WithLabelValues(state).Set(float64(n))
	}
}

func (c *Collector) collectContainers() {
	containers, err := c.source.ListContainers()
	if err != nil {
		return
	}
	counts := make(map[string]int)
	for _, ct := range containers {
		counts[string(ct.State)]++
	}
	ContainersTotal.Reset()
	for state, n := range counts {
		ContainersTotal.WithLabelValues(state).Set(float64(n))
	}
}
