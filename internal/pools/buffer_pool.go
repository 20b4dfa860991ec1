package pools

import "github.com/corehttp/server/internal/buffer"

// Size tiers for recycled Buffers, matching the three classes an
// HTTP request/response actually needs: a bare status line and
// headers, a typical small HTML page, and a larger static asset read
// in one shot before mmap takes over.
const (
	tierSmall  = 2 * 1024
	tierMedium = 8 * 1024
	tierLarge  = 32 * 1024
)

// BufferPool recycles *buffer.Buffer across three size tiers. The
// teacher repo carried three near-identical tiered byte-slice pools
// (byte_pool.go, buffer_pool.go, fast_pool.go); this consolidates them
// into one pool over the domain's actual Buffer type rather than a
// bare []byte, since that is what Connection actually allocates.
type BufferPool struct {
	small  chan *buffer.Buffer
	medium chan *buffer.Buffer
	large  chan *buffer.Buffer
}

// NewBufferPool returns a BufferPool with depth idle buffers cached
// per tier.
func NewBufferPool(depth int) *BufferPool {
	if depth <= 0 {
		depth = 64
	}
	return &BufferPool{
		small:  make(chan *buffer.Buffer, depth),
		medium: make(chan *buffer.Buffer, depth),
		large:  make(chan *buffer.Buffer, depth),
	}
}

func (bp *BufferPool) tierFor(estimatedSize int) chan *buffer.Buffer {
	switch {
	case estimatedSize <= tierSmall:
		return bp.small
	case estimatedSize <= tierMedium:
		return bp.medium
	default:
		return bp.large
	}
}

func (bp *BufferPool) tierCap(estimatedSize int) int {
	switch {
	case estimatedSize <= tierSmall:
		return tierSmall
	case estimatedSize <= tierMedium:
		return tierMedium
	default:
		return tierLarge
	}
}

// Get returns a Buffer sized for estimatedSize, recycled if one is
// idle in the matching tier, freshly allocated otherwise.
func (bp *BufferPool) Get(estimatedSize int) *buffer.Buffer {
	tier := bp.tierFor(estimatedSize)
	select {
	case b := <-tier:
		return b
	default:
		return buffer.New(bp.tierCap(estimatedSize))
	}
}

// Put resets buf and returns it to its size tier. Oversized buffers
// (beyond the large tier) are dropped for the GC to collect rather
// than grown further by a future caller.
func (bp *BufferPool) Put(buf *buffer.Buffer, tierSize int) {
	if buf == nil {
		return
	}
	buf.RetrieveAll()
	if buf.Writable() > tierLarge {
		return
	}
	tier := bp.tierFor(tierSize)
	select {
	case tier <- buf:
	default:
	}
}
