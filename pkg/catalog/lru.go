package catalog

import (
	"container/list"
	"sync"
)

// instances 是有上限的 LRU，保存每个数据集的视图解析器和每个容器的统计引擎。
// 被淘汰的实例只是失去缓存，下次访问时重新创建。
type instances[V any] struct {
	mu       sync.Mutex
	capacity int
	data     map[string]*list.Element
	order    *list.List
}

type entry[V any] struct {
	key   string
	value V
}

func newInstances[V any](capacity int) *instances[V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &instances[V]{
		capacity: capacity,
		data:     make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get 返回 key 对应的实例，不存在时用 create 创建并放入
func (c *instances[V]) Get(key string, create func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.data[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*entry[V]).value
	}
	for len(c.data) >= c.capacity {
		back := c.order.Back()
		delete(c.data, back.Value.(*entry[V]).key)
		c.order.Remove(back)
	}
	v := create()
	c.data[key] = c.order.PushFront(&entry[V]{key: key, value: v})
	return v
}

// Peek 不创建，也不调整顺序
func (c *instances[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.data[key]; ok {
		return el.Value.(*entry[V]).value, true
	}
	var zero V
	return zero, false
}

// Delete 移除实例
func (c *instances[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.data[key]; ok {
		delete(c.data, key)
		c.order.Remove(el)
	}
}

func (c *instances[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
