package ratchet

import (
	"gitlab.com/yawning/avl.git"

	"parley/internal/domain"
	"parley/internal/util/memzero"
)

type skipID struct {
	dh domain.X25519Public
	n  uint32
}

type skippedEntry struct {
	id   skipID
	seq  uint64
	mk   []byte
	node *avl.Node
}

// skippedCache is a bounded map of message keys with an index ordered by
// (counter, insertion sequence). When full, the smallest counter goes first.
type skippedCache struct {
	max   int
	seq   uint64
	byID  map[skipID]*skippedEntry
	order *avl.Tree
}

func newSkippedCache(max int) *skippedCache {
	return &skippedCache{
		max:  max,
		byID: make(map[skipID]*skippedEntry),
		order: avl.New(func(a, b interface{}) int {
			ea, eb := a.(*skippedEntry), b.(*skippedEntry)
			switch {
			case ea.id.n < eb.id.n:
				return -1
			case ea.id.n > eb.id.n:
				return 1
			case ea.seq < eb.seq:
				return -1
			case ea.seq > eb.seq:
				return 1
			}
			return 0
		}),
	}
}

func (c *skippedCache) Len() int { return len(c.byID) }

// put stores mk and returns how many entries were evicted to make room.
func (c *skippedCache) put(dh domain.X25519Public, n uint32, mk []byte) int {
	id := skipID{dh: dh, n: n}
	if old, ok := c.byID[id]; ok {
		c.remove(old)
	}
	c.insert(&skippedEntry{id: id, seq: c.seq, mk: mk})
	c.seq++

	evicted := 0
	for len(c.byID) > c.max {
		oldest := c.order.Iterator(avl.Forward).First()
		c.remove(oldest.Value.(*skippedEntry))
		evicted++
	}
	return evicted
}

// take removes and returns the key for (dh, n).
func (c *skippedCache) take(dh domain.X25519Public, n uint32) ([]byte, bool) {
	e, ok := c.byID[skipID{dh: dh, n: n}]
	if !ok {
		return nil, false
	}
	mk := e.mk
	e.mk = nil
	c.remove(e)
	return mk, true
}

func (c *skippedCache) insert(e *skippedEntry) {
	e.node = c.order.Insert(e)
	c.byID[e.id] = e
}

func (c *skippedCache) remove(e *skippedEntry) {
	c.order.Remove(e.node)
	delete(c.byID, e.id)
	memzero.Zero(e.mk)
	e.node = nil
}

// export returns copies of the cached keys in eviction order.
func (c *skippedCache) export() []domain.SkippedKey {
	if len(c.byID) == 0 {
		return nil
	}
	out := make([]domain.SkippedKey, 0, len(c.byID))
	iter := c.order.Iterator(avl.Forward)
	for node := iter.First(); node != nil; node = iter.Next() {
		e := node.Value.(*skippedEntry)
		out = append(out, domain.SkippedKey{
			PeerDiffieHellman: e.id.dh,
			MessageIndex:      e.id.n,
			MessageKey:        append([]byte(nil), e.mk...),
			Sequence:          e.seq,
		})
	}
	return out
}

// load replaces the contents with keys and returns the number evicted when
// keys holds more than the bound.
func (c *skippedCache) load(keys []domain.SkippedKey, seq uint64) int {
	c.wipe()
	c.seq = seq
	for _, k := range keys {
		if k.Sequence >= c.seq {
			c.seq = k.Sequence + 1
		}
		c.insert(&skippedEntry{
			id:  skipID{dh: k.PeerDiffieHellman, n: k.MessageIndex},
			seq: k.Sequence,
			mk:  append([]byte(nil), k.MessageKey...),
		})
	}
	evicted := 0
	for len(c.byID) > c.max {
		c.remove(c.order.Iterator(avl.Forward).First().Value.(*skippedEntry))
		evicted++
	}
	return evicted
}

func (c *skippedCache) clone() *skippedCache {
	out := newSkippedCache(c.max)
	keys := c.export()
	out.load(keys, c.seq)
	for i := range keys {
		memzero.Zero(keys[i].MessageKey)
	}
	return out
}

func (c *skippedCache) wipe() {
	for _, e := range c.byID {
		c.remove(e)
	}
}
