package engine

import (
	"sockdrill/internal/config"
	"sockdrill/internal/template"
	"sockdrill/internal/transport"
)

// inboxSlack leaves the correlation inbox room for a few arrivals past
// the expected totals, so late duplicates do not evict wanted messages.
const inboxSlack = 16

// arrival is one inbound message routed to a tree's inbox.
type arrival struct {
	channel string
	data    any
}

// binding ties a channel to the response spec that first claimed it and
// to the emit that carries that spec.
type binding struct {
	spec  *config.ResponseSpec
	owner *config.EmitSpec
}

// tree is one armed correlation tree, private to a single emit step.
// The counts map is mutated only by the step's own goroutine; transport
// handlers never touch it, they only post to the inbox.
type tree struct {
	conn     transport.Conn
	counts   map[string]int
	bindings map[string]binding
	inbox    chan arrival
}

// armTree walks the response tree hanging off root and subscribes a
// listener per distinct channel. The whole map is populated before any
// subscription exists, and armTree returns before the caller sends, so
// no inbound message can race ahead of its registration. Channels whose
// templated name is empty terminate their path.
func armTree(conn transport.Conn, root *config.EmitSpec, vars map[string]any) (*tree, error) {
	t := &tree{
		conn:     conn,
		counts:   make(map[string]int),
		bindings: make(map[string]binding),
	}

	// Iterative walk: response specs can nest arbitrarily deep.
	type node struct {
		owner *config.EmitSpec
		mult  int
	}
	stack := []node{{owner: root, mult: 1}}
	var order []string
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		spec := n.owner.Response
		if spec == nil {
			continue
		}
		channel, err := template.Substitute(spec.Channel, vars)
		if err != nil {
			return nil, err
		}
		if channel == "" {
			continue
		}

		times := 1
		if spec.Times != nil {
			times = *spec.Times
		}
		if _, seen := t.counts[channel]; !seen {
			t.bindings[channel] = binding{spec: spec, owner: n.owner}
			order = append(order, channel)
		}
		// Revisits of a channel add to its count; the subscription is
		// shared and the first binding wins.
		t.counts[channel] += n.mult * times

		if spec.Emit != nil {
			stack = append(stack, node{owner: spec.Emit, mult: n.mult})
		}
	}

	total := 0
	for _, n := range t.counts {
		total += n
	}
	t.inbox = make(chan arrival, total+inboxSlack)

	for _, channel := range order {
		ch := channel
		t.conn.Subscribe(ch, func(_ string, data any) {
			select {
			case t.inbox <- arrival{channel: ch, data: data}:
			default:
			}
		})
	}
	return t, nil
}

// empty reports whether the walk produced no expectations at all.
func (t *tree) empty() bool {
	return len(t.counts) == 0
}

// complete reports whether every expected count has reached zero.
func (t *tree) complete() bool {
	for _, n := range t.counts {
		if n > 0 {
			return false
		}
	}
	return true
}

// decrement consumes one arrival on channel, dropping the subscription
// the moment the channel is satisfied so excess messages are ignored.
func (t *tree) decrement(channel string) {
	t.counts[channel]--
	if t.counts[channel] <= 0 {
		t.conn.Unsubscribe(channel)
	}
}

// outstanding snapshots the channels still owed messages.
func (t *tree) outstanding() map[string]int {
	out := make(map[string]int)
	for ch, n := range t.counts {
		if n > 0 {
			out[ch] = n
		}
	}
	return out
}

// close drops whatever subscriptions remain.
func (t *tree) close() {
	for ch := range t.bindings {
		t.conn.Unsubscribe(ch)
	}
}
