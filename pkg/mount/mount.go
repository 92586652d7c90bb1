// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package mount implements the kernel's mount table: the longest-prefix
// match from a path to the rendezvous endpoint serving it (spec.md §3,
// §4.6).
package mount

import (
	"fmt"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-logr/logr"

	kerrors "github.com/euralios/kernel/pkg/errors"
	"github.com/euralios/kernel/pkg/rendezvous"
)

// ErrNotFound is returned by Resolve/Open when no registered prefix
// covers the requested path (spec.md §4.6).
var ErrNotFound = kerrors.New("mount: no entry covers path")

// Event is published to subscribers each time Register succeeds,
// modeled on the teacher's resource.Event fan-out.
type Event struct {
	Path string
}

type entry struct {
	prefix string
	ep     *rendezvous.Endpoint
	seq    int
}

type subscriber struct {
	ch chan Event
}

// Table is the kernel's mount table: an ordered set of path-prefix to
// endpoint bindings, plus an append-only Badger log of every
// registration and a subscriber fan-out for diagnostics clients.
type Table struct {
	mu      sync.RWMutex
	entries []entry
	nextSeq int

	log             *badger.DB
	eventCh         chan Event
	stopEventRouter chan struct{}
	subscribers     []*subscriber
	closed          bool
	wg              sync.WaitGroup

	logger logr.Logger
}

// New opens an in-memory Badger handle for the registration log and
// starts the subscriber fan-out goroutine.
func New(logger logr.Logger) (*Table, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true))
	if err != nil {
		return nil, fmt.Errorf("mount: opening registration log: %w", err)
	}
	t := &Table{
		log:             db,
		eventCh:         make(chan Event),
		stopEventRouter: make(chan struct{}),
		logger:          logger.WithName("mount"),
	}
	t.wg.Add(1)
	go t.routeEvents()
	return t, nil
}

// Register binds prefix to ep, ties go to the entry registered first
// (spec.md §3's "first registered wins" tie-break), and appends the
// registration to the audit log.
func (t *Table) Register(prefix string, ep *rendezvous.Endpoint) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("mount: table closed")
	}
	seq := t.nextSeq
	t.nextSeq++
	t.entries = append(t.entries, entry{prefix: prefix, ep: ep, seq: seq})
	t.mu.Unlock()

	if err := t.log.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(fmt.Sprintf("mount/%08d", seq)), []byte(prefix))
	}); err != nil {
		t.logger.Error(err, "failed to append registration to audit log", "prefix", prefix)
	}

	t.logger.V(1).Info("registered mount", "prefix", prefix)
	t.eventCh <- Event{Path: prefix}
	return nil
}

// Resolve finds the longest registered prefix covering path, breaking
// ties by earliest registration, and returns the matching endpoint and
// the path's remainder past the matched prefix.
func (t *Table) Resolve(path string) (*rendezvous.Endpoint, string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	best := -1
	for i, e := range t.entries {
		if !strings.HasPrefix(path, e.prefix) {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		cur, winner := t.entries[i], t.entries[best]
		if len(cur.prefix) > len(winner.prefix) ||
			(len(cur.prefix) == len(winner.prefix) && cur.seq < winner.seq) {
			best = i
		}
	}
	if best == -1 {
		return nil, "", ErrNotFound
	}
	e := t.entries[best]
	return e.ep, strings.TrimPrefix(path, e.prefix), nil
}

// Open performs the rcall(endpoint, OPEN, flags, 0, nil) round trip
// described in spec.md §4.6 against the endpoint serving path, and
// expects a CommHandle reply.
func (t *Table) Open(path string, flags uint64) (*rendezvous.Endpoint, error) {
	ep, _, err := t.Resolve(path)
	if err != nil {
		return nil, err
	}

	tag, d1, _, err := rendezvous.Rcall(ep, rendezvous.TagOpen, rendezvous.ValueData(flags), rendezvous.ValueData(0), nil)
	if err != nil {
		return nil, err
	}
	if tag != rendezvous.TagCommHandle {
		return nil, fmt.Errorf("mount: unexpected reply tag %d opening %q", tag, path)
	}
	handle, ok := d1.(rendezvous.CommHandleData)
	if !ok {
		return nil, fmt.Errorf("mount: reply to OPEN %q carried no comm handle", path)
	}
	return handle.Endpoint, nil
}

// Subscribe returns a channel of every future Register event. Closed
// when the table is closed.
func (t *Table) Subscribe() <-chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Event, 8)
	if t.closed {
		close(ch)
		return ch
	}
	t.subscribers = append(t.subscribers, &subscriber{ch: ch})
	return ch
}

func (t *Table) routeEvents() {
	defer t.wg.Done()
	for {
		select {
		case e := <-t.eventCh:
			t.mu.RLock()
			subs := t.subscribers
			t.mu.RUnlock()
			for _, s := range subs {
				s.ch <- e
			}
		case <-t.stopEventRouter:
			return
		}
	}
}

// Close stops the fan-out goroutine, closes every subscriber channel,
// and closes the audit log.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := t.subscribers
	t.mu.Unlock()

	close(t.stopEventRouter)
	t.wg.Wait()
	for _, s := range subs {
		close(s.ch)
	}
	return t.log.Close()
}

// Entries returns the registered prefixes in insertion order, for
// diagnostics and tests.
func (t *Table) Entries() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.prefix
	}
	return out
}
