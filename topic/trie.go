package topic

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/golang-io/mqttc/packet"
)

// Handler receives the messages whose topic matches a subscribed filter.
type Handler func(*packet.Message)

var (
	ErrEmptyFilter   = errors.New("topic: empty filter")
	ErrInvalidFilter = errors.New("topic: invalid wildcard position")
)

type node struct {
	path    string // 路由过滤器的部分
	filter  string // 完整的过滤器, 只在订阅终点上设置
	handler Handler
	next    map[string]*node
}

func newNode(path string) *node {
	return &node{path: path, next: make(map[string]*node)}
}

// Trie 订阅过滤树, 过滤器按 "/" 分层
// + 匹配单个层级, # 匹配任意数量的层级(包括父层级本身)
type Trie struct {
	mu   sync.RWMutex
	root *node
	size int
}

func New() *Trie {
	return &Trie{root: newNode("")}
}

// Valid 检查通配符位置
// 多层通配符必须是最后一个字符并且单独占据一个层级, 单层通配符必须单独占据一个层级
func Valid(filter string) error {
	if filter == "" {
		return ErrEmptyFilter
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return ErrInvalidFilter
		}
		if strings.Contains(level, "+") && level != "+" {
			return ErrInvalidFilter
		}
	}
	return nil
}

// Subscribe 添加或替换过滤器的处理函数
func (t *Trie) Subscribe(filter string, handler Handler) error {
	if err := Valid(filter); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	current := t.root
	for _, subPath := range strings.Split(filter, "/") {
		next, ok := current.next[subPath]
		if !ok {
			next = newNode(subPath)
			current.next[subPath] = next
		}
		current = next
	}
	if current.filter == "" {
		t.size++
	}
	current.filter, current.handler = filter, handler
	return nil
}

// Lookup 返回过滤器当前的处理函数
func (t *Trie) Lookup(filter string) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	current := t.root
	for _, subPath := range strings.Split(filter, "/") {
		next, ok := current.next[subPath]
		if !ok {
			return nil, false
		}
		current = next
	}
	if current.filter == "" {
		return nil, false
	}
	return current.handler, true
}

// Unsubscribe 删除过滤器, 并清理不再使用的分支
func (t *Trie) Unsubscribe(filter string) bool {
	if filter == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	levels := strings.Split(filter, "/")
	chain := []*node{t.root}
	current := t.root
	for _, subPath := range levels {
		next, ok := current.next[subPath]
		if !ok {
			return false
		}
		chain = append(chain, next)
		current = next
	}
	if current.filter == "" {
		return false
	}
	current.filter, current.handler = "", nil
	t.size--

	for i := len(chain) - 1; i > 0; i-- {
		n := chain[i]
		if n.filter != "" || len(n.next) != 0 {
			break
		}
		delete(chain[i-1].next, n.path)
	}
	return true
}

// Match 返回所有匹配主题名的处理函数, 按过滤器排序
// 以 $ 开头的主题不匹配首层的通配符
func (t *Trie) Match(topicName string) []Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var found []*node
	levels := strings.Split(topicName, "/")
	var walk func(n *node, i int)
	walk = func(n *node, i int) {
		wildcard := i > 0 || !strings.HasPrefix(topicName, "$")
		if next, ok := n.next["#"]; ok && wildcard && next.filter != "" {
			found = append(found, next)
		}
		if i == len(levels) {
			if n.filter != "" {
				found = append(found, n)
			}
			return
		}
		if next, ok := n.next[levels[i]]; ok {
			walk(next, i+1)
		}
		if next, ok := n.next["+"]; ok && wildcard {
			walk(next, i+1)
		}
	}
	walk(t.root, 0)

	sort.Slice(found, func(i, j int) bool { return found[i].filter < found[j].filter })
	handlers := make([]Handler, 0, len(found))
	for _, n := range found {
		if n.handler != nil {
			handlers = append(handlers, n.handler)
		}
	}
	return handlers
}

// Filters 返回所有已订阅的过滤器
func (t *Trie) Filters() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var filters []string
	var walk func(n *node)
	walk = func(n *node) {
		if n.filter != "" {
			filters = append(filters, n.filter)
		}
		for _, next := range n.next {
			walk(next)
		}
	}
	walk(t.root)
	sort.Strings(filters)
	return filters
}

func (t *Trie) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}
