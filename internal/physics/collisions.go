package physics

// pair is an unordered id pair stored with a < b.
type pair struct{ a, b int }

func makePair(x, y int) pair {
	if x > y {
		x, y = y, x
	}
	return pair{a: x, b: y}
}

// collisionSet tracks which pairs currently overlap, indexed per entity so a
// removed entity's pairs can be closed.
type collisionSet struct {
	byEntity map[int]map[int]struct{}
}

func newCollisionSet() *collisionSet {
	return &collisionSet{byEntity: make(map[int]map[int]struct{})}
}

// start marks p active. It reports false if p was already active.
func (c *collisionSet) start(p pair) bool {
	if c.active(p) {
		return false
	}
	c.link(p.a, p.b)
	c.link(p.b, p.a)
	return true
}

// stop marks p inactive. It reports false if p was not active.
func (c *collisionSet) stop(p pair) bool {
	if !c.active(p) {
		return false
	}
	c.unlink(p.a, p.b)
	c.unlink(p.b, p.a)
	return true
}

func (c *collisionSet) active(p pair) bool {
	_, ok := c.byEntity[p.a][p.b]
	return ok
}

// partners returns the ids currently colliding with id.
func (c *collisionSet) partners(id int) []int {
	m := c.byEntity[id]
	out := make([]int, 0, len(m))
	for other := range m {
		out = append(out, other)
	}
	return out
}

func (c *collisionSet) len() int {
	n := 0
	for _, m := range c.byEntity {
		n += len(m)
	}
	return n / 2
}

func (c *collisionSet) reset() {
	c.byEntity = make(map[int]map[int]struct{})
}

func (c *collisionSet) link(from, to int) {
	m, ok := c.byEntity[from]
	if !ok {
		m = make(map[int]struct{})
		c.byEntity[from] = m
	}
	m[to] = struct{}{}
}

func (c *collisionSet) unlink(from, to int) {
	m := c.byEntity[from]
	delete(m, to)
	if len(m) == 0 {
		delete(c.byEntity, from)
	}
}
