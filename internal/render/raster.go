// Package render owns the display half of the pipeline: the Raster
// resource handle, the latest-frame-wins sink, and fit composition onto
// fixed-size surfaces.
package render

import (
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// Raster is an owned, displayable pixel buffer produced by the decoder.
// Ownership transfers to exactly one holder at a time (decoder, then sink);
// whoever holds it last must call Release on every exit path. Release is
// idempotent, so a deferred Release alongside an explicit one is safe.
type Raster struct {
	img       *image.RGBA
	seq       uint64
	timestamp time.Time
	released  atomic.Bool
	free      func(*image.RGBA)
}

// NewRaster wraps an image the decoder allocated outside the pool.
func NewRaster(img *image.RGBA, seq uint64, timestamp time.Time) *Raster {
	return &Raster{img: img, seq: seq, timestamp: timestamp}
}

// Image returns the backing pixels. Nil after Release.
func (r *Raster) Image() *image.RGBA {
	return r.img
}

// Width returns the pixel width.
func (r *Raster) Width() int {
	if r.img == nil {
		return 0
	}
	return r.img.Bounds().Dx()
}

// Height returns the pixel height.
func (r *Raster) Height() int {
	if r.img == nil {
		return 0
	}
	return r.img.Bounds().Dy()
}

// Seq returns the decode issue sequence. The sink paints strictly
// increasing sequences and drops the rest.
func (r *Raster) Seq() uint64 {
	return r.seq
}

// Timestamp returns the arrival time of the frame this raster came from.
func (r *Raster) Timestamp() time.Time {
	return r.timestamp
}

// Release returns the backing buffer to its pool, if any, and marks the
// raster dead. Safe to call more than once; only the first call acts.
func (r *Raster) Release() {
	if r == nil {
		return
	}
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	if r.free != nil {
		r.free(r.img)
	}
	r.img = nil
}

// Released reports whether Release has been called.
func (r *Raster) Released() bool {
	return r.released.Load()
}

// maxPooledPerSize bounds how many spare buffers one resolution keeps.
const maxPooledPerSize = 4

// BufferPool recycles RGBA buffers between decodes. Stream resolutions are
// stable in practice, so the pool is a small freelist per size.
type BufferPool struct {
	mu      sync.Mutex
	buckets map[image.Point][]*image.RGBA
}

// NewBufferPool creates an empty pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{buckets: make(map[image.Point][]*image.RGBA)}
}

// Get returns a zero-origin RGBA buffer of the requested size, reusing a
// pooled one when available.
func (p *BufferPool) Get(width, height int) *image.RGBA {
	key := image.Point{X: width, Y: height}
	p.mu.Lock()
	bucket := p.buckets[key]
	if n := len(bucket); n > 0 {
		img := bucket[n-1]
		p.buckets[key] = bucket[:n-1]
		p.mu.Unlock()
		return img
	}
	p.mu.Unlock()
	return image.NewRGBA(image.Rect(0, 0, width, height))
}

// NewRaster wraps a pool-managed image; Release puts the buffer back.
func (p *BufferPool) NewRaster(img *image.RGBA, seq uint64, timestamp time.Time) *Raster {
	return &Raster{img: img, seq: seq, timestamp: timestamp, free: p.put}
}

func (p *BufferPool) put(img *image.RGBA) {
	if img == nil {
		return
	}
	b := img.Bounds()
	if b.Min != (image.Point{}) {
		return
	}
	key := image.Point{X: b.Dx(), Y: b.Dy()}
	p.mu.Lock()
	if len(p.buckets[key]) < maxPooledPerSize {
		p.buckets[key] = append(p.buckets[key], img)
	}
	p.mu.Unlock()
}

// Size returns how many spare buffers the pool currently holds.
func (p *BufferPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, bucket := range p.buckets {
		n += len(bucket)
	}
	return n
}
