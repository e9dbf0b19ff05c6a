package rtdb

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the in-process Store implementation. All mutations are
// serialized under a single lock, which is what gives subscribers in-order
// delivery per path.
type MemoryStore struct {
	mu   sync.Mutex
	root map[string]any
	subs map[*subscriber]struct{}

	pushMu   sync.Mutex
	lastPush int64
	pushSeq  int

	now func() time.Time

	// onMutate is invoked after every applied mutation while the store lock
	// is held. Used by the SQLite-persisted wrapper.
	onMutate func(root map[string]any)
}

type subscriber struct {
	path  []string
	ch    chan any
	done  chan struct{}
	close sync.Once
}

// NewMemoryStore returns an empty in-memory tree store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		root: make(map[string]any),
		subs: make(map[*subscriber]struct{}),
		now:  time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, path string) (any, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopy(s.valueAt(parts)), nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, value any) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	encoded, err := s.encodeWithServerValues(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(parts, encoded)
	s.afterMutation(parts)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, path string, children map[string]any) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	encoded := make(map[string]any, len(children))
	for k, v := range children {
		if v == nil {
			encoded[k] = nil
			continue
		}
		ev, err := s.encodeWithServerValues(v)
		if err != nil {
			return err
		}
		encoded[k] = ev
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.valueAt(parts).(map[string]any)
	if !ok {
		node = make(map[string]any)
	}
	for k, v := range encoded {
		if v == nil {
			delete(node, k)
		} else {
			node[k] = v
		}
	}
	if len(node) == 0 {
		s.setLocked(parts, nil)
	} else {
		s.setLocked(parts, node)
	}
	s.afterMutation(parts)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(parts, nil)
	s.afterMutation(parts)
	return nil
}

// Push keys embed a millisecond timestamp plus a per-tick sequence so that
// keys allocated later always sort later.
func (s *MemoryStore) Push(ctx context.Context, path string) (string, error) {
	if _, err := splitPath(path); err != nil {
		return "", err
	}
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	now := s.now().UnixMilli()
	if now <= s.lastPush {
		now = s.lastPush
		s.pushSeq++
	} else {
		s.lastPush = now
		s.pushSeq = 0
	}
	return fmt.Sprintf("-%013x%04x", now, s.pushSeq), nil
}

func (s *MemoryStore) Subscribe(path string) (<-chan any, func()) {
	parts, err := splitPath(path)
	if err != nil {
		ch := make(chan any)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		path: parts,
		ch:   make(chan any, 64),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	sub.deliver(deepCopy(s.valueAt(parts)))
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		// The subscriber is out of subs, so no deliver can race the close;
		// closing ch lets consumers ranging over it terminate.
		sub.close.Do(func() {
			close(sub.done)
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// deliver never blocks: when the buffer is full the oldest pending snapshot
// is dropped, so a slow consumer still converges on the latest value.
func (sub *subscriber) deliver(value any) {
	select {
	case <-sub.done:
		return
	default:
	}
	for {
		select {
		case sub.ch <- value:
			return
		default:
			select {
			case <-sub.ch:
			default:
			}
		}
	}
}

func (s *MemoryStore) afterMutation(changed []string) {
	for sub := range s.subs {
		if pathsOverlap(sub.path, changed) {
			sub.deliver(deepCopy(s.valueAt(sub.path)))
		}
	}
	if s.onMutate != nil {
		s.onMutate(s.root)
	}
}

// pathsOverlap reports whether one path is an ancestor of (or equal to) the
// other; only then does the change affect the subscriber's value.
func pathsOverlap(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *MemoryStore) valueAt(parts []string) any {
	var cur any = s.root
	for _, p := range parts {
		branch, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = branch[p]
	}
	return cur
}

// setLocked writes value at parts, creating intermediate branches and
// pruning branches that become empty when value is nil.
func (s *MemoryStore) setLocked(parts []string, value any) {
	s.setIn(s.root, parts, value)
}

func (s *MemoryStore) setIn(node map[string]any, parts []string, value any) {
	key := parts[0]
	if len(parts) == 1 {
		if value == nil {
			delete(node, key)
		} else {
			node[key] = value
		}
		return
	}
	child, ok := node[key].(map[string]any)
	if !ok {
		if value == nil {
			return
		}
		child = make(map[string]any)
		node[key] = child
	}
	s.setIn(child, parts[1:], value)
	if len(child) == 0 {
		delete(node, key)
	}
}

func (s *MemoryStore) encodeWithServerValues(value any) (any, error) {
	resolved := s.resolveServerValues(value)
	return Encode(resolved)
}

func (s *MemoryStore) resolveServerValues(value any) any {
	switch v := value.(type) {
	case serverTimestamp:
		return s.now().UnixMilli()
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, c := range v {
			out[k] = s.resolveServerValues(c)
		}
		return out
	default:
		return value
	}
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, c := range v {
			out[k] = deepCopy(c)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, c := range v {
			out[i] = deepCopy(c)
		}
		return out
	default:
		return value
	}
}
