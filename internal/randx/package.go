// Package randx generates span and trace identifiers. Generators are sharded
// so that concurrent callers rarely contend on the same lock.
package randx

import (
	"math/rand"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
)

var (
	// 16 shards or one per CPU, whichever is higher. Past that, contention
	// stops improving in local benchmarks.
	defaultPool = NewPool(time.Now().UnixNano(), max(16, runtime.NumCPU()))
)

// Pool is a fixed set of independently seeded generators.
type Pool struct {
	next   atomic.Uint64
	shards []*shard
}

type shard struct {
	lock sync.Mutex
	rand *rand.Rand
}

// NewPool creates size generators seeded from seed.
func NewPool(seed int64, size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{shards: make([]*shard, size)}
	for i := range p.shards {
		p.shards[i] = &shard{rand: rand.New(rand.NewSource(seed + int64(i)))}
	}
	return p
}

func (p *Pool) pick() *shard {
	return p.shards[p.next.Inc()%uint64(len(p.shards))]
}

// Uint64 returns a non-zero random number.
func (p *Pool) Uint64() uint64 {
	s := p.pick()
	s.lock.Lock()
	defer s.lock.Unlock()
	return nonZero(s.rand)
}

// TwoUint64 returns two random numbers drawn under one lock. The pair is
// never both zero.
func (p *Pool) TwoUint64() (uint64, uint64) {
	s := p.pick()
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.rand.Uint64(), nonZero(s.rand)
}

func nonZero(r *rand.Rand) uint64 {
	for {
		if n := r.Uint64(); n != 0 {
			return n
		}
	}
}

// GenSeededGUID returns a non-zero 64-bit id.
func GenSeededGUID(opts ...Option) uint64 {
	c := defaultConfig()
	for _, opt := range opts {
		opt(c)
	}

	return c.randomPool.Uint64()
}

// GenSeededGUID2 returns a 128-bit id as two halves; the low half is non-zero.
func GenSeededGUID2(opts ...Option) (uint64, uint64) {
	c := defaultConfig()
	for _, opt := range opts {
		opt(c)
	}

	return c.randomPool.TwoUint64()
}

type Option func(*config)

func WithRandomPool(randomPool *Pool) Option {
	return func(c *config) {
		c.randomPool = randomPool
	}
}

type config struct {
	randomPool *Pool
}

func defaultConfig() *config {
	return &config{
		randomPool: defaultPool,
	}
}

// max returns the larger value among a and b
func max(x, y int) int {
	if x > y {
		return x
	}
	return y
}
