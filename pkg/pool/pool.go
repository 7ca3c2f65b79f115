// Package pool provides object pooling for propagation hot paths.
//
// Every propagation step allocates energy maps per round and symbol slices
// for the trailing window. Episodes run these steps in a tight loop, so the
// maps and slices are pooled and reused instead of reallocated.
package pool

import (
	"sync"

	"github.com/orneryd/muninn/pkg/graph"
)

// Config controls pooling behavior.
type Config struct {
	// Enabled turns pooling on. When off, Get functions allocate fresh
	// objects and Put functions drop their argument.
	Enabled bool

	// MaxSize is the largest map or slice capacity kept in a pool.
	MaxSize int
}

var config = Config{
	Enabled: true,
	MaxSize: 4096,
}

// Configure sets the global pool configuration. Call early, before any
// propagation runs.
func Configure(c Config) {
	config = c
}

// Enabled reports whether pooling is active.
func Enabled() bool {
	return config.Enabled
}

var energyMapPool = sync.Pool{
	New: func() any {
		return make(map[graph.Symbol]float64, 64)
	},
}

// GetEnergyMap returns an empty symbol-to-energy map from the pool.
func GetEnergyMap() map[graph.Symbol]float64 {
	if !config.Enabled {
		return make(map[graph.Symbol]float64, 64)
	}
	m := energyMapPool.Get().(map[graph.Symbol]float64)
	for k := range m {
		delete(m, k)
	}
	return m
}

// PutEnergyMap returns a map to the pool. Oversized maps are dropped so a
// single huge graph does not pin memory forever.
func PutEnergyMap(m map[graph.Symbol]float64) {
	if !config.Enabled || m == nil {
		return
	}
	if len(m) > config.MaxSize {
		return
	}
	energyMapPool.Put(m)
}

var symbolSlicePool = sync.Pool{
	New: func() any {
		return make([]graph.Symbol, 0, 64)
	},
}

// GetSymbolSlice returns a length-zero symbol slice from the pool.
func GetSymbolSlice() []graph.Symbol {
	if !config.Enabled {
		return make([]graph.Symbol, 0, 64)
	}
	return symbolSlicePool.Get().([]graph.Symbol)[:0]
}

// PutSymbolSlice returns a slice to the pool.
func PutSymbolSlice(s []graph.Symbol) {
	if !config.Enabled {
		return
	}
	if cap(s) > config.MaxSize {
		return
	}
	symbolSlicePool.Put(s[:0])
}
