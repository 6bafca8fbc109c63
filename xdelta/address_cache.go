package xdelta

// AddressCache is VCDIFF's two-ring structure for short-encoding recently
// used COPY addresses: a "near" ring of the last nearSize resolved
// addresses, and a "same" table hashed by address-mod-(sameSize*256). It is
// allocated per decode, not per process, and reset at the start of every
// window (§4.12).
type AddressCache struct {
	nearSize     int
	sameSize     int
	near         []uint64
	same         []uint64
	nextNearSlot int
}

// DefaultNearSize and DefaultSameSize are RFC 3284's default cache
// parameters; together with the two absolute/here-relative modes they
// produce the 9 COPY address modes the default code table assumes.
const (
	DefaultNearSize = 4
	DefaultSameSize = 3
)

// NewAddressCache allocates a cache with the given ring sizes.
func NewAddressCache(nearSize, sameSize int) *AddressCache {
	return &AddressCache{
		nearSize: nearSize,
		sameSize: sameSize,
		near:     make([]uint64, nearSize),
		same:     make([]uint64, sameSize*256),
	}
}

// Reset clears both tables and rewinds the near-ring cursor, as required at
// every VCDIFF window boundary.
func (c *AddressCache) Reset() {
	c.nextNearSlot = 0
	for i := range c.near {
		c.near[i] = 0
	}
	for i := range c.same {
		c.same[i] = 0
	}
}

// Update publishes a just-resolved absolute address to both tables. It is
// called after every COPY instruction, unconditionally, with the address
// that instruction resolved (not per-byte).
func (c *AddressCache) Update(address uint64) {
	if c.nearSize > 0 {
		c.near[c.nextNearSlot] = address
		c.nextNearSlot = (c.nextNearSlot + 1) % c.nearSize
	}
	if c.sameSize > 0 {
		c.same[int(address)%(c.sameSize*256)] = address
	}
}

// Near returns the address cached at near-ring slot i (mode - 2).
func (c *AddressCache) Near(i int) uint64 {
	return c.near[i]
}

// Same returns the address cached at same-table slot i
// ((mode-(2+nearSize))*256 + k).
func (c *AddressCache) Same(i int) uint64 {
	return c.same[i]
}

// NearSize and SameSize report the cache's configured ring sizes, needed by
// the decoder to map an address mode to the right table.
func (c *AddressCache) NearSize() int { return c.nearSize }
func (c *AddressCache) SameSize() int { return c.sameSize }
