package clockx

// slot state bits
const (
	stPresent uint8 = 1 << iota
	stEvictable
	stRef
)

// Clock implements CLOCK (second-chance) replacement for a fixed number of slots.
// Each slot id in [0..capacity) carries a present bit, an evictable bit and a
// reference bit packed into one byte.
type Clock struct {
	state []uint8
	hand  int
	size  int // number of present+evictable slots
}

func New(capacity int) *Clock {
	if capacity <= 0 {
		capacity = 1
	}
	return &Clock{state: make([]uint8, capacity)}
}

func (c *Clock) Capacity() int { return len(c.state) }

func (c *Clock) valid(id int) bool { return id >= 0 && id < len(c.state) }

func (c *Clock) has(id int, bit uint8) bool { return c.state[id]&bit != 0 }

// Touch marks slot as present and recently used.
func (c *Clock) Touch(id int) {
	if !c.valid(id) {
		return
	}
	c.state[id] |= stPresent | stRef
}

// SetEvictable marks whether a present slot can be chosen as a victim.
// Unknown slots are ignored.
func (c *Clock) SetEvictable(id int, evictable bool) {
	if !c.valid(id) || !c.has(id, stPresent) {
		return
	}
	if c.has(id, stEvictable) == evictable {
		return
	}
	if evictable {
		c.state[id] |= stEvictable
		c.size++
		return
	}
	c.state[id] &^= stEvictable
	c.size--
}

// Evict sweeps the hand at most twice around the ring, clearing reference
// bits on the first pass. The victim stops being tracked.
func (c *Clock) Evict() (id int, ok bool) {
	n := len(c.state)
	if n == 0 || c.size == 0 {
		return -1, false
	}

	for range 2 * n {
		idx := c.hand
		c.hand = (c.hand + 1) % n

		st := c.state[idx]
		if st&stPresent == 0 || st&stEvictable == 0 {
			continue
		}
		if st&stRef != 0 {
			c.state[idx] &^= stRef
			continue
		}
		c.state[idx] = 0
		c.size--
		return idx, true
	}

	return -1, false
}

// Remove stops tracking slot id.
func (c *Clock) Remove(id int) {
	if !c.valid(id) || !c.has(id, stPresent) {
		return
	}
	if c.has(id, stEvictable) {
		c.size--
	}
	c.state[id] = 0
}

func (c *Clock) Size() int { return c.size }
