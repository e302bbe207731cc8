// Package faultinject drops, alters and injects RPC messages for partition
// and reordering tests.
package faultinject

import (
	"sync"
	"sync/atomic"
)

// Message is one outbound call as seen by a rule.
type Message struct {
	Method string
	// Request may be mutated by a transform.
	Request any
	// Reply receives the response of an injected message. Nil means the
	// response is discarded.
	Reply any
}

// Rule matches messages and applies its actions to every match, in a fixed
// order: drop, drop-odd, drop-even, transform, inject-before. Build one with
// Always or Matches.
type Rule struct {
	always bool
	match  func(Message) bool

	drop         bool
	dropOdd      bool
	dropEven     bool
	transform    func(*Message)
	injectBefore func(Message) Message

	matched atomic.Int64
}

// Always returns a rule matching every message.
func Always() *Rule { return &Rule{always: true} }

// Matches returns a rule matching messages pred accepts.
func Matches(pred func(Message) bool) *Rule { return &Rule{match: pred} }

// MethodIs returns a rule matching calls to the full gRPC method name.
func MethodIs(method string) *Rule {
	return Matches(func(m Message) bool { return m.Method == method })
}

// Drop discards every match.
func (r *Rule) Drop() *Rule { r.drop = true; return r }

// DropOdd discards the 2nd, 4th, ... match.
func (r *Rule) DropOdd() *Rule { r.dropOdd = true; return r }

// DropEven discards the 1st, 3rd, ... match.
func (r *Rule) DropEven() *Rule { r.dropEven = true; return r }

// Transform rewrites matches before delivery.
func (r *Rule) Transform(fn func(*Message)) *Rule { r.transform = fn; return r }

// InjectBefore sends fn(match) ahead of each delivered match.
func (r *Rule) InjectBefore(fn func(Message) Message) *Rule { r.injectBefore = fn; return r }

// Matched returns how many messages the rule has matched.
func (r *Rule) Matched() int64 { return r.matched.Load() }

// Evaluate applies r to msg and reports whether msg should still be
// delivered. send delivers injected messages.
func (r *Rule) Evaluate(msg *Message, send func(Message)) bool {
	if msg == nil {
		return false
	}
	if !r.always && (r.match == nil || !r.match(*msg)) {
		return true
	}
	n := r.matched.Add(1) - 1
	switch {
	case r.drop:
		return false
	case r.dropOdd && n%2 != 0:
		return false
	case r.dropEven && n%2 == 0:
		return false
	}
	if r.transform != nil {
		r.transform(msg)
	}
	if r.injectBefore != nil && send != nil {
		send(r.injectBefore(*msg))
	}
	return true
}

// Rules is a mutable rule list shared with interceptors.
type Rules struct {
	mu    sync.RWMutex
	rules []*Rule
}

// Add appends rules.
func (rs *Rules) Add(rules ...*Rule) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules = append(rs.rules, rules...)
}

// Clear removes every rule.
func (rs *Rules) Clear() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules = nil
}

// Evaluate runs every rule in order and stops at the first that drops msg.
func (rs *Rules) Evaluate(msg *Message, send func(Message)) bool {
	rs.mu.RLock()
	rules := append([]*Rule(nil), rs.rules...)
	rs.mu.RUnlock()
	for _, r := range rules {
		if !r.Evaluate(msg, send) {
			return false
		}
	}
	return true
}
