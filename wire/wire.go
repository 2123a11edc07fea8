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

// Package wire implements the control-channel protocol spoken between the
// engine and its privilege-separated siblings. Messages are tagged and
// length prefixed; file descriptors ride along as SCM_RIGHTS ancillary
// data on the same stream socket.
package wire

import (
	"encoding/binary"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/trustplane/trustd/pkg/serrors"
)

// Type tags a control message.
type Type uint32

// Parent to engine messages.
const (
	TypeNewSessionFd Type = iota + 1
	TypePeerChannelFd
	TypeBeginConfig
	TypeRoaItem
	TypeAspaHeader
	TypeAspaProviders
	TypeAspaFamilyMask
	TypeAspaDone
	TypeSessionConfig
	TypeDrain
	TypeCommitConfig
	TypeShowSession
	TypeListEnd
)

// Engine to parent messages.
const (
	TypeSessionStatus Type = iota + 64
)

// Engine to peer snapshot messages.
const (
	TypeRoaSetBegin Type = iota + 128
	TypeRoaSetItem
	TypeAspaPrep
	TypeAspaSetBegin
	TypeAspaSetProviders
	TypeAspaSetFamilyMask
	TypeAspaSetDone
	TypeRecalcDone
)

func (t Type) String() string {
	switch t {
	case TypeNewSessionFd:
		return "new_session_fd"
	case TypePeerChannelFd:
		return "peer_channel_fd"
	case TypeBeginConfig:
		return "begin_config"
	case TypeRoaItem:
		return "roa_item"
	case TypeAspaHeader:
		return "aspa_header"
	case TypeAspaProviders:
		return "aspa_providers"
	case TypeAspaFamilyMask:
		return "aspa_family_mask"
	case TypeAspaDone:
		return "aspa_done"
	case TypeSessionConfig:
		return "session_config"
	case TypeDrain:
		return "drain"
	case TypeCommitConfig:
		return "commit_config"
	case TypeShowSession:
		return "show_session"
	case TypeListEnd:
		return "list_end"
	case TypeSessionStatus:
		return "session_status"
	case TypeRoaSetBegin:
		return "roa_set_begin"
	case TypeRoaSetItem:
		return "roa_set_item"
	case TypeAspaPrep:
		return "aspa_prep"
	case TypeAspaSetBegin:
		return "aspa_set_begin"
	case TypeAspaSetProviders:
		return "aspa_set_providers"
	case TypeAspaSetFamilyMask:
		return "aspa_set_family_mask"
	case TypeAspaSetDone:
		return "aspa_set_done"
	case TypeRecalcDone:
		return "recalc_done"
	default:
		return "unknown"
	}
}

// carriesFD reports whether a received message of this type is expected to
// come with an ancillary file descriptor.
func (t Type) carriesFD() bool {
	return t == TypeNewSessionFd || t == TypePeerChannelFd
}

// Msg is one control message. FD is -1 when no descriptor is attached.
type Msg struct {
	Type    Type
	Session uint32
	Data    []byte
	FD      int
}

const (
	headerLen = 12
	// MaxPayload bounds a single message payload. Configurations are
	// attacker influenced, single messages are not allowed to be.
	MaxPayload = 1 << 20
)

// Conn is a control channel endpoint. It is not safe for concurrent use by
// multiple readers or multiple writers.
type Conn struct {
	conn *net.UnixConn
	buf  []byte
	fds  []int
}

// NewConn wraps an established unix stream connection.
func NewConn(c *net.UnixConn) *Conn {
	return &Conn{conn: c}
}

// FromFD builds a Conn from an inherited file descriptor, as handed down
// by the parent process on startup.
func FromFD(fd int, name string) (*Conn, error) {
	f := os.NewFile(uintptr(fd), name)
	if f == nil {
		return nil, serrors.New("invalid channel fd", "fd", fd)
	}
	c, err := net.FileConn(f)
	// The FileConn dup'ed the descriptor, the original is no longer needed.
	f.Close()
	if err != nil {
		return nil, serrors.Wrap("opening channel", err, "fd", fd)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, serrors.New("channel fd is not a unix socket", "fd", fd)
	}
	return NewConn(uc), nil
}

// Send writes one message. An attached file descriptor is passed as
// SCM_RIGHTS ancillary data.
func (c *Conn) Send(m Msg) error {
	if len(m.Data) > MaxPayload {
		return serrors.New("payload too large", "type", m.Type, "len", len(m.Data))
	}
	buf := make([]byte, headerLen+len(m.Data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.Type))
	binary.BigEndian.PutUint32(buf[4:8], m.Session)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(m.Data)))
	copy(buf[headerLen:], m.Data)
	if m.FD >= 0 {
		_, _, err := c.conn.WriteMsgUnix(buf, unix.UnixRights(m.FD), nil)
		return err
	}
	_, err := c.conn.Write(buf)
	return err
}

// Recv reads the next complete message, blocking as needed. Received file
// descriptors are queued and attached to the next message of a type that
// expects one.
func (c *Conn) Recv() (Msg, error) {
	for {
		if m, ok, err := c.parse(); err != nil || ok {
			return m, err
		}
		if err := c.fill(); err != nil {
			return Msg{}, err
		}
	}
}

// parse extracts one message from the read buffer if complete.
func (c *Conn) parse() (Msg, bool, error) {
	if len(c.buf) < headerLen {
		return Msg{}, false, nil
	}
	plen := binary.BigEndian.Uint32(c.buf[8:12])
	if plen > MaxPayload {
		return Msg{}, false, serrors.New("oversized payload", "len", plen)
	}
	if len(c.buf) < headerLen+int(plen) {
		return Msg{}, false, nil
	}
	m := Msg{
		Type:    Type(binary.BigEndian.Uint32(c.buf[0:4])),
		Session: binary.BigEndian.Uint32(c.buf[4:8]),
		FD:      -1,
	}
	if plen > 0 {
		m.Data = make([]byte, plen)
		copy(m.Data, c.buf[headerLen:headerLen+plen])
	}
	c.buf = c.buf[headerLen+plen:]
	if m.Type.carriesFD() && len(c.fds) > 0 {
		m.FD = c.fds[0]
		c.fds = c.fds[1:]
	}
	return m, true, nil
}

// fill reads more data and ancillary descriptors from the socket.
func (c *Conn) fill() error {
	data := make([]byte, 64*1024)
	oob := make([]byte, unix.CmsgSpace(8*4))
	n, oobn, _, _, err := c.conn.ReadMsgUnix(data, oob)
	if err != nil {
		return err
	}
	if n == 0 && oobn == 0 {
		return serrors.New("channel closed")
	}
	c.buf = append(c.buf, data[:n]...)
	if oobn > 0 {
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return serrors.Wrap("parsing control message", err)
		}
		for _, scm := range scms {
			fds, err := unix.ParseUnixRights(&scm)
			if err != nil {
				continue
			}
			c.fds = append(c.fds, fds...)
		}
	}
	return nil
}

// Close closes the channel and any queued, unclaimed descriptors.
func (c *Conn) Close() error {
	for _, fd := range c.fds {
		unix.Close(fd)
	}
	c.fds = nil
	return c.conn.Close()
}
