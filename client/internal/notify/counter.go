package notify

import "sync"

// Counter 未读数，任何时刻都不小于 0。
//
// gen 在每次写入绝对值（服务端计数、Set、Reset）时递增。
// 乐观变更记下预测时的 gen，回滚时据此判断期间是否收到过权威计数。
type Counter struct {
	mu        sync.Mutex
	value     int
	gen       uint64
	listeners []func(int)
}

func NewCounter() *Counter {
	return &Counter{}
}

// OnChange 注册变更回调；回调在锁外按注册顺序执行。
func (c *Counter) OnChange(fn func(int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *Counter) Set(n int) int {
	_, v, _ := c.update(func(int) int { return n }, true)
	return v
}

func (c *Counter) Increment() int {
	_, v, _ := c.update(func(v int) int { return v + 1 }, false)
	return v
}

// Decrement 下限为 0。
func (c *Counter) Decrement() int {
	_, v, _ := c.update(func(v int) int { return v - 1 }, false)
	return v
}

func (c *Counter) Reset() int {
	_, v, _ := c.update(func(int) int { return 0 }, true)
	return v
}

// Adjust 相对修改，返回实际生效的增量（受下限截断）与当前 gen。
func (c *Counter) Adjust(delta int) (int, uint64) {
	prev, next, gen := c.update(func(v int) int { return v + delta }, false)
	return next - prev, gen
}

// Take 本地预测清零，返回清零前的值与当前 gen。
func (c *Counter) Take() (int, uint64) {
	prev, _, gen := c.update(func(int) int { return 0 }, false)
	return prev, gen
}

// Restore 撤销一次相对修改：gen 之后收到过绝对值时以那次为准，不再叠加 delta。
func (c *Counter) Restore(gen uint64, delta int) int {
	_, v, _ := c.update(func(v int) int {
		if c.gen != gen {
			return v
		}
		return v + delta
	}, false)
	return v
}

// Apply 按推送事件更新；携带 count 的事件是绝对值。
func (c *Counter) Apply(evt Event) int {
	_, v, _ := c.update(func(v int) int { return Reduce(v, evt) }, evt.Count != nil)
	return v
}

func (c *Counter) update(fn func(int) int, absolute bool) (int, int, uint64) {
	c.mu.Lock()
	prev := c.value
	next := fn(prev)
	if next < 0 {
		next = 0
	}
	c.value = next
	if absolute {
		c.gen++
	}
	gen := c.gen
	listeners := c.listeners
	c.mu.Unlock()

	if next != prev {
		for _, l := range listeners {
			l(next)
		}
	}
	return prev, next, gen
}
