// Package processcache memoizes circuit process matrices for one model.
// Products are built from their cached prefixes, so enumerating a pool
// costs one matrix multiply per circuit.
package processcache

import (
	"sync"
	"sync/atomic"

	"github.com/aristath/gstdesign/internal/modules/circuits"
	"github.com/aristath/gstdesign/internal/modules/model"
	"golang.org/x/sync/singleflight"
	"gonum.org/v1/gonum/mat"
)

// Stats reports cache effectiveness.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Cache is safe for concurrent use. Returned matrices are shared and must
// not be modified by callers.
type Cache struct {
	gates model.GateSet

	mu       sync.RWMutex
	products map[string]*mat.Dense
	group    singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates an empty cache over a gate set.
func New(gates model.GateSet) *Cache {
	return &Cache{
		gates:    gates,
		products: make(map[string]*mat.Dense),
	}
}

// GateSet returns the gate set the cache computes against.
func (c *Cache) GateSet() model.GateSet { return c.gates }

// Product returns the process matrix G_last ··· G_first of a circuit.
func (c *Cache) Product(circ circuits.Circuit) (*mat.Dense, error) {
	key := circ.Key()

	c.mu.RLock()
	p, ok := c.products[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return p, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		p, ok := c.products[key]
		c.mu.RUnlock()
		if ok {
			return p, nil
		}
		c.misses.Add(1)

		p, err := c.compute(circ)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.products[key] = p
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*mat.Dense), nil
}

func (c *Cache) compute(circ circuits.Circuit) (*mat.Dense, error) {
	n := c.gates.Dim()
	if circ.IsEmpty() {
		id := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			id.Set(i, i, 1)
		}
		return id, nil
	}
	labels := circ.Labels()
	g, err := c.gates.Gate(labels[len(labels)-1])
	if err != nil {
		return nil, err
	}
	if len(labels) == 1 {
		return mat.DenseCopyOf(g), nil
	}
	prefix, err := c.Product(circuits.New(labels[:len(labels)-1]...))
	if err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Mul(g, prefix)
	return &out, nil
}

// PrepVector returns G_c ρ, the state a preparation fiducial produces.
func (c *Cache) PrepVector(circ circuits.Circuit) (*mat.VecDense, error) {
	p, err := c.Product(circ)
	if err != nil {
		return nil, err
	}
	var v mat.VecDense
	v.MulVec(p, c.gates.Prep())
	return &v, nil
}

// EffectVectors returns G_cᵀ E_k for every POVM effect, the effects seen
// through a measurement fiducial.
func (c *Cache) EffectVectors(circ circuits.Circuit) ([]*mat.VecDense, error) {
	p, err := c.Product(circ)
	if err != nil {
		return nil, err
	}
	effects := c.gates.Effects()
	out := make([]*mat.VecDense, len(effects))
	for k, e := range effects {
		var v mat.VecDense
		v.MulVec(p.T(), e)
		out[k] = &v
	}
	return out, nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.products)
	c.mu.RUnlock()
	return Stats{Entries: n, Hits: c.hits.Load(), Misses: c.misses.Load()}
}
