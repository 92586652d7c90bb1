// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package fs_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/euralios/kernel/pkg/fs"
	"github.com/euralios/kernel/pkg/rendezvous"
)

// fakeOpener hands out one end of a rendezvous pair and serves the
// other end from a caller-provided handler, standing in for a mounted
// driver during tests.
type fakeOpener struct {
	serve func(req rendezvous.Message)
}

func (o *fakeOpener) Open(path string, flags uint8) (*rendezvous.Endpoint, error) {
	server, client := rendezvous.NewPair()
	go func() {
		req, err := server.Receive()
		if err != nil {
			return
		}
		o.serve(req)
	}()
	return client, nil
}

func TestFileWriteReturnsAcceptedLength(t *testing.T) {
	o := &fakeOpener{serve: func(req rendezvous.Message) {
		require.Equal(t, rendezvous.TagWrite, req.Tag())
		require.NoError(t, req.Reply.Send(rendezvous.NewLong(rendezvous.TagOK, rendezvous.ValueData(3), rendezvous.ValueData(0))))
	}}

	f, err := fs.Create(o, "/out")
	require.NoError(t, err)

	n, err := f.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestFileReadToEndReturnsDriverBytes(t *testing.T) {
	payload := []byte("hello world")
	o := &fakeOpener{serve: func(req rendezvous.Message) {
		require.Equal(t, rendezvous.TagRead, req.Tag())
		handle := rendezvous.MemoryHandleData{Handle: memHandle(payload)}
		require.NoError(t, req.Reply.Send(rendezvous.NewLong(rendezvous.TagData,
			rendezvous.ValueData(uint64(len(payload))), handle)))
	}}

	f, err := fs.Open(o, "/in")
	require.NoError(t, err)

	got, err := f.ReadToEnd()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFileQueryParsesJSONEnvelope(t *testing.T) {
	body, err := json.Marshal(map[string]any{
		"files": []map[string]any{{"name": "a.txt"}, {"name": "b.txt"}},
	})
	require.NoError(t, err)

	o := &fakeOpener{serve: func(req rendezvous.Message) {
		require.Equal(t, rendezvous.TagQuery, req.Tag())
		handle := rendezvous.MemoryHandleData{Handle: memHandle(body)}
		require.NoError(t, req.Reply.Send(rendezvous.NewLong(rendezvous.TagJSON,
			rendezvous.ValueData(uint64(len(body))), handle)))
	}}

	f, err := fs.Open(o, "/dir")
	require.NoError(t, err)

	q, err := f.Query()
	require.NoError(t, err)
	assert.Len(t, q.Files(), 2)
}

func TestReadDirPopsInReverseOrder(t *testing.T) {
	body, err := json.Marshal(map[string]any{
		"files": []map[string]any{{"name": "a.txt"}, {"name": "b.txt"}},
	})
	require.NoError(t, err)

	o := &fakeOpener{serve: func(req rendezvous.Message) {
		handle := rendezvous.MemoryHandleData{Handle: memHandle(body)}
		require.NoError(t, req.Reply.Send(rendezvous.NewLong(rendezvous.TagJSON,
			rendezvous.ValueData(uint64(len(body))), handle)))
	}}

	rd, err := fs.ListDir(o, "/dir")
	require.NoError(t, err)

	first, ok := rd.Next()
	require.True(t, ok)
	assert.Equal(t, "b.txt", first.Name())

	second, ok := rd.Next()
	require.True(t, ok)
	assert.Equal(t, "a.txt", second.Name())

	_, ok = rd.Next()
	assert.False(t, ok)
}

// memHandle is a minimal hal.MemoryHandle for test fixtures.
type memHandle []byte

func (m memHandle) AsBytes() []byte { return m }
func (m memHandle) Len() int        { return len(m) }
