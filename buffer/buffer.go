package buffer

import (
	"math"
	"sync"
)

type Average float64
type Minimum float64
type Maximum float64
type Sum float64

// SampleBuffer is a fixed capacity ring. Once full the oldest sample is
// overwritten. Statistics are taken over the samples held, not the capacity,
// so a partially filled buffer gives a valid partial result.
type SampleBuffer struct {
	position int
	size     int
	length   int
	data     []float64
	lock     sync.Mutex
}

func NewBuffer(size int) *SampleBuffer {
	if size < 1 {
		panic("buffer: size must be at least 1")
	}
	b := SampleBuffer{}
	b.size = size
	b.data = make([]float64, size)

	return &b
}

func (b *SampleBuffer) AddItem(val float64) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.data[b.position] = val
	b.position += 1
	if b.position == b.size {
		b.position = 0
	}
	if b.length < b.size {
		b.length += 1
	}
}

func (b *SampleBuffer) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.length
}

func (b *SampleBuffer) GetAverageMinMaxSum() (Average, Minimum, Maximum, Sum) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.length == 0 {
		return 0, 0, 0, 0
	}
	s, mn, mx := b.sumMinMaxLast(b.length)
	return Average(float64(s) / float64(b.length)), mn, mx, s
}

// AverageLast covers the newest numberOfItems samples, clamped to what is held.
func (b *SampleBuffer) AverageLast(numberOfItems int) Average {
	b.lock.Lock()
	defer b.lock.Unlock()
	if numberOfItems > b.length {
		numberOfItems = b.length
	}
	if numberOfItems <= 0 {
		return 0
	}
	sum, _, _ := b.sumMinMaxLast(numberOfItems)
	return Average(float64(sum) / float64(numberOfItems))
}

func (b *SampleBuffer) sumMinMaxLast(numberOfItems int) (Sum, Minimum, Maximum) {
	if numberOfItems > b.length {
		numberOfItems = b.length
	}
	if numberOfItems <= 0 {
		return 0, 0, 0
	}
	index := b.position - numberOfItems
	if index < 0 {
		// we are at the start of the array, so need to reverse wrap
		index += b.size
	}
	min := math.MaxFloat64
	max := -math.MaxFloat64
	sum := 0.0
	for numberOfItems > 0 {
		x := b.data[index]
		sum += x
		if x > max {
			max = x
		}
		if x < min {
			min = x
		}
		index += 1
		if index == b.size {
			index = 0
		}
		numberOfItems -= 1
	}
	return Sum(sum), Minimum(min), Maximum(max)
}

// GetRawData returns a copy of the held samples, oldest first.
func (b *SampleBuffer) GetRawData() []float64 {
	b.lock.Lock()
	defer b.lock.Unlock()
	out := make([]float64, 0, b.length)
	index := b.position - b.length
	if index < 0 {
		index += b.size
	}
	for i := 0; i < b.length; i++ {
		out = append(out, b.data[index])
		index += 1
		if index == b.size {
			index = 0
		}
	}
	return out
}

// GetLast returns the newest sample, 0 when empty.
func (b *SampleBuffer) GetLast() float64 {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.length == 0 {
		return 0
	}
	index := b.position - 1
	if index < 0 {
		index += b.size
	}
	return b.data[index]
}
