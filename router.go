package mqtt

import (
	"strings"
	"sync"

	"github.com/mqttrt/mqtt5/topic"
)

// router dispatches an inbound PUBLISH to every handler whose filter
// matches its topic name; the client's single onMessage handler receives
// only messages no filter matched. It lets a caller mix one catch-all
// handler with per-filter
// handlers registered through Client.Handle, mirroring how most MQTT
// client libraries let applications route by topic instead of
// switching on message.Topic themselves.
//
// trie tracks the union of registered filters purely to answer "does
// anything match at all" cheaply; which specific handler(s) fire is
// decided by matchFilter against each filter in turn, since the trie's
// Find only reports a match against the whole subscription set.
type router struct {
	mu       sync.RWMutex
	trie     *topic.MemoryTrie
	handlers map[string]MessageHandler
}

func newRouter() *router {
	return &router{
		trie:     topic.NewMemoryTrie(),
		handlers: make(map[string]MessageHandler),
	}
}

func (r *router) Add(filter string, fn MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trie.Subscribe(filter)
	r.handlers[filter] = fn
}

func (r *router) Remove(filter string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trie.Unsubscribe(filter)
	delete(r.handlers, filter)
}

// Dispatch calls every handler whose registered filter matches
// topicName and returns how many fired, so callers can fall back to a
// catch-all handler when it is zero.
func (r *router) Dispatch(topicName string, msg *Message) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.trie.Find(topicName); !ok {
		return 0
	}
	n := 0
	for filter, fn := range r.handlers {
		if matchFilter(filter, topicName) {
			fn(msg)
			n++
		}
	}
	return n
}

// matchFilter implements the topic matching rules of 4.7.1: "+" matches
// exactly one topic level, "#" matches that level and every level below
// it, and a topic name beginning with "$" is never matched by a filter
// whose first level is a wildcard (reserved for broker-internal topics
// such as $SYS).
func matchFilter(filter, topicName string) bool {
	if strings.HasPrefix(topicName, "$") && (filter == "#" || strings.HasPrefix(filter, "+")) {
		return false
	}
	fLevels := strings.Split(filter, "/")
	tLevels := strings.Split(topicName, "/")

	for i, f := range fLevels {
		if f == "#" {
			return true
		}
		if i >= len(tLevels) {
			return false
		}
		if f != "+" && f != tLevels[i] {
			return false
		}
	}
	return len(fLevels) == len(tLevels)
}
