// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package rendezvous implements the synchronous message channel that
// pairs producers and consumers (spec.md §3, §4.4): Short and Long
// messages, the Endpoint capability, and the Rcall composed RPC
// primitive.
package rendezvous

import "github.com/euralios/kernel/pkg/hal"

// Tags are the small, stable-on-the-wire enumeration from spec.md §6.
const (
	TagOpen        uint64 = iota + 1
	TagRead
	TagWrite
	TagQuery
	TagData
	TagOK
	TagJSON
	TagCommHandle
	TagVideoMemory
)

// Short is a three-machine-word message: a tag and two plain values.
type Short struct {
	Tag    uint64
	V1, V2 uint64
}

// MessageData is the sum type carried in each Long data slot: a plain
// value, a transferable memory handle, or a transferable endpoint.
// The dispatcher (pkg/syscalls) passes messages through without checking
// tag/shape pairing; each client that receives a reply (pkg/fs,
// pkg/mount, internal/bootstrap) checks its shape itself.
type MessageData interface {
	isMessageData()
}

// ValueData is a plain 64-bit value.
type ValueData uint64

func (ValueData) isMessageData() {}

// MemoryHandleData transfers ownership of a physical page range.
type MemoryHandleData struct {
	Handle hal.MemoryHandle
}

func (MemoryHandleData) isMessageData() {}

// CommHandleData transfers ownership of an Endpoint.
type CommHandleData struct {
	Endpoint *Endpoint
}

func (CommHandleData) isMessageData() {}

// Long is a two-data-slot message, each slot one of the MessageData
// variants above.
type Long struct {
	Tag          uint64
	Data1, Data2 MessageData
}

// Message is the tagged union delivered over a Rendezvous: exactly one
// of Short or Long is non-nil.
//
// Reply carries the anonymous reply endpoint Rcall attaches to an
// outgoing request (spec.md §4.4: "send {tag, v1, v2, reply_endpoint}
// to handle"). Short and Long each carry only two data words, so the
// reply channel travels alongside the tagged payload rather than inside
// one of its slots — servers read it off the received Message, reply on
// it directly, and never place a reply endpoint in their own response's
// Short/Long shape (the wire shapes tabulated in spec.md §6 describe
// replies, which carry no further reply channel of their own). Reply is
// nil on every message that did not originate from Rcall.
type Message struct {
	Short *Short
	Long  *Long
	Reply *Endpoint
}

// Tag returns the message's tag regardless of shape.
func (m Message) Tag() uint64 {
	if m.Short != nil {
		return m.Short.Tag
	}
	if m.Long != nil {
		return m.Long.Tag
	}
	return 0
}

// NewShort builds a Short-shaped Message.
func NewShort(tag, v1, v2 uint64) Message {
	return Message{Short: &Short{Tag: tag, V1: v1, V2: v2}}
}

// NewLong builds a Long-shaped Message.
func NewLong(tag uint64, d1, d2 MessageData) Message {
	return Message{Long: &Long{Tag: tag, Data1: d1, Data2: d2}}
}
