// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package rendezvous

import (
	"sync"

	kerrors "github.com/euralios/kernel/pkg/errors"
)

// ErrChannelClosed is returned by Send/Receive/Rcall once the peer
// endpoint has dropped (spec.md §4.4, §7).
var ErrChannelClosed = kerrors.New("rendezvous: channel closed")

// State mirrors the three-state mailbox described in spec.md §4.4,
// exposed for introspection and tests; the blocking behavior itself is
// implemented with a Go channel (see core), since an unbuffered channel
// send/receive pair is already a faithful synchronous rendezvous.
type State int

const (
	StateIdle State = iota
	StateSenderWaiting
	StateReceiverWaiting
	StateClosed
)

// core is the shared mailbox two Endpoints rendezvous through.
type core struct {
	mu      sync.Mutex
	refs    [2]int // live handles on each side of the pair
	closed  bool
	waiting int // >0: a sender is parked, <0: a receiver is parked

	ch   chan Message
	done chan struct{}
}

func (c *core) state() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return StateClosed
	case c.waiting > 0:
		return StateSenderWaiting
	case c.waiting < 0:
		return StateReceiverWaiting
	default:
		return StateIdle
	}
}

// Endpoint is one side of a rendezvous: a reference-counted, owned,
// transferable capability (spec.md §3, §6's CommHandle).
type Endpoint struct {
	c    *core
	side int
}

// NewPair creates a fresh rendezvous and returns its two endpoints, each
// holding one reference (spec.md §4.5 new_rendezvous()).
func NewPair() (*Endpoint, *Endpoint) {
	c := &core{
		refs: [2]int{1, 1},
		ch:   make(chan Message),
		done: make(chan struct{}),
	}
	return &Endpoint{c: c, side: 0}, &Endpoint{c: c, side: 1}
}

// Clone returns a new handle to the same endpoint, incrementing its
// reference count. Used when a single side of a rendezvous must be
// handed to more than one owner (e.g. init's VGA handshake, which
// passes the same endpoint as both a driver's stdin and stdout).
func (e *Endpoint) Clone() *Endpoint {
	e.c.mu.Lock()
	e.c.refs[e.side]++
	e.c.mu.Unlock()
	return &Endpoint{c: e.c, side: e.side}
}

// Close drops this handle. When the last handle to either side of the
// rendezvous is dropped, the mailbox is destroyed and any peer parked in
// Send or Receive wakes with ErrChannelClosed (spec.md §3).
func (e *Endpoint) Close() {
	e.c.mu.Lock()
	e.c.refs[e.side]--
	shouldClose := e.c.refs[e.side] <= 0 && !e.c.closed
	if shouldClose {
		e.c.closed = true
	}
	e.c.mu.Unlock()

	if shouldClose {
		close(e.c.done)
	}
}

// State reports the mailbox's current state, for diagnostics and tests.
func (e *Endpoint) State() State { return e.c.state() }

// Send blocks until a receiver is present on the peer endpoint, or the
// rendezvous is closed (spec.md §4.4's Idle/SenderWaiting/ReceiverWaiting
// transition table).
func (e *Endpoint) Send(msg Message) error {
	e.c.mu.Lock()
	if e.c.closed {
		e.c.mu.Unlock()
		return ErrChannelClosed
	}
	e.c.waiting++
	e.c.mu.Unlock()

	defer func() {
		e.c.mu.Lock()
		e.c.waiting--
		e.c.mu.Unlock()
	}()

	select {
	case e.c.ch <- msg:
		return nil
	case <-e.c.done:
		return ErrChannelClosed
	}
}

// Receive blocks until a sender delivers a message on the peer endpoint,
// or the rendezvous is closed.
func (e *Endpoint) Receive() (Message, error) {
	e.c.mu.Lock()
	if e.c.closed {
		e.c.mu.Unlock()
		return Message{}, ErrChannelClosed
	}
	e.c.waiting--
	e.c.mu.Unlock()

	defer func() {
		e.c.mu.Lock()
		e.c.waiting++
		e.c.mu.Unlock()
	}()

	select {
	case msg := <-e.c.ch:
		return msg, nil
	case <-e.c.done:
		return Message{}, ErrChannelClosed
	}
}

// Rcall is the composed RPC primitive from spec.md §4.4: allocate an
// anonymous reply endpoint (or use replyOpt), send {tag, v1, v2,
// reply_endpoint} to ep, receive exactly one message on the reply
// endpoint, drop the reply endpoint, and return the received
// (tag, data1, data2) triple.
func Rcall(ep *Endpoint, tag uint64, v1, v2 MessageData, replyOpt *Endpoint) (uint64, MessageData, MessageData, error) {
	reply := replyOpt
	var replyPeer *Endpoint
	if reply == nil {
		reply, replyPeer = NewPair()
		defer replyPeer.Close()
	}
	defer reply.Close()

	req := Message{
		Long:  &Long{Tag: tag, Data1: v1, Data2: v2},
		Reply: reply,
	}
	if err := ep.Send(req); err != nil {
		return 0, nil, nil, err
	}

	resp, err := reply.Receive()
	if err != nil {
		return 0, nil, nil, err
	}

	if resp.Long != nil {
		return resp.Long.Tag, resp.Long.Data1, resp.Long.Data2, nil
	}
	if resp.Short != nil {
		return resp.Short.Tag, ValueData(resp.Short.V1), ValueData(resp.Short.V2), nil
	}
	return 0, nil, nil, nil
}
