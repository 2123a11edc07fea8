// Copyright 2023 Trustplane Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wire_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/trustplane/trustd/wire"
)

func connPair(t *testing.T) (*wire.Conn, *wire.Conn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	a, err := wire.FromFD(fds[0], "a")
	require.NoError(t, err)
	b, err := wire.FromFD(fds[1], "b")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestConnRoundTrip(t *testing.T) {
	a, b := connPair(t)

	require.NoError(t, a.Send(wire.Msg{Type: wire.TypeDrain, FD: -1}))
	require.NoError(t, a.Send(wire.Msg{
		Type:    wire.TypeAspaProviders,
		Session: 7,
		Data:    wire.MarshalASList([]uint32{64501, 64502}),
		FD:      -1,
	}))

	m, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, wire.TypeDrain, m.Type)
	assert.Empty(t, m.Data)
	assert.Equal(t, -1, m.FD)

	m, err = b.Recv()
	require.NoError(t, err)
	assert.Equal(t, wire.TypeAspaProviders, m.Type)
	assert.Equal(t, uint32(7), m.Session)
	as, err := wire.UnmarshalASList(m.Data, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{64501, 64502}, as)
}

func TestConnPassesFD(t *testing.T) {
	a, b := connPair(t)

	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	defer pw.Close()

	require.NoError(t, a.Send(wire.Msg{
		Type:    wire.TypeNewSessionFd,
		Session: 3,
		FD:      int(pw.Fd()),
	}))

	m, err := b.Recv()
	require.NoError(t, err)
	require.Equal(t, wire.TypeNewSessionFd, m.Type)
	require.GreaterOrEqual(t, m.FD, 0)
	defer unix.Close(m.FD)

	// The received descriptor must refer to the write end of the pipe.
	_, err = unix.Write(m.FD, []byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = pr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestConnRecvAfterClose(t *testing.T) {
	a, b := connPair(t)
	require.NoError(t, a.Close())
	_, err := b.Recv()
	assert.Error(t, err)
}

func TestFromFDRejectsNonSocket(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "notasocket")
	require.NoError(t, err)
	defer f.Close()
	fd, err := unix.Dup(int(f.Fd()))
	require.NoError(t, err)
	_, err = wire.FromFD(fd, "bogus")
	assert.Error(t, err)
}
