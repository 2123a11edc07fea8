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

package wire

import (
	"bytes"
	"encoding/binary"
	"net/netip"

	"github.com/trustplane/trustd/pkg/serrors"
	"github.com/trustplane/trustd/trust"
)

// Fixed payload sizes. Length mismatches against these indicate channel
// desynchronization and are treated as fatal by the receiver.
const (
	RoaItemLen       = 31
	AspaHeaderLen    = 16
	AspaPrepLen      = 12
	SessionParamsLen = 40
	SessionStatusLen = SessionParamsLen + 1
)

const (
	famV4 = 1
	famV6 = 2

	// SessionDescrLen is the fixed size of the session description field.
	SessionDescrLen = 32
)

// MarshalROA encodes a ROA entry into its fixed-size record.
func MarshalROA(r trust.ROA) []byte {
	b := make([]byte, RoaItemLen)
	addr := r.Prefix.Addr()
	if addr.Is4() {
		b[0] = famV4
		a4 := addr.As4()
		copy(b[1:5], a4[:])
	} else {
		b[0] = famV6
		a16 := addr.As16()
		copy(b[1:17], a16[:])
	}
	b[17] = uint8(r.Prefix.Bits())
	b[18] = r.MaxLength
	binary.BigEndian.PutUint32(b[19:23], r.OriginAS)
	binary.BigEndian.PutUint64(b[23:31], uint64(r.Expires))
	return b
}

// UnmarshalROA decodes a fixed-size ROA record. The length is validated
// before any field is interpreted.
func UnmarshalROA(b []byte) (trust.ROA, error) {
	if len(b) != RoaItemLen {
		return trust.ROA{}, serrors.New("bad roa item length",
			"len", len(b), "expected", RoaItemLen)
	}
	var addr netip.Addr
	switch b[0] {
	case famV4:
		addr = netip.AddrFrom4([4]byte(b[1:5]))
	case famV6:
		addr = netip.AddrFrom16([16]byte(b[1:17]))
	default:
		return trust.ROA{}, serrors.New("bad roa address family", "family", b[0])
	}
	prefix, err := addr.Prefix(int(b[17]))
	if err != nil {
		return trust.ROA{}, serrors.Wrap("bad roa prefix length", err,
			"bits", b[17])
	}
	return trust.ROA{
		Prefix:    prefix,
		MaxLength: b[18],
		OriginAS:  binary.BigEndian.Uint32(b[19:23]),
		Expires:   int64(binary.BigEndian.Uint64(b[23:31])),
	}, nil
}

// AspaHeader announces an ASPA set of Count providers about to be
// transferred in fragments.
type AspaHeader struct {
	CustomerAS uint32
	Count      uint32
	Expires    int64
}

// MarshalAspaHeader encodes the header into its fixed-size record.
func MarshalAspaHeader(h AspaHeader) []byte {
	b := make([]byte, AspaHeaderLen)
	binary.BigEndian.PutUint32(b[0:4], h.CustomerAS)
	binary.BigEndian.PutUint32(b[4:8], h.Count)
	binary.BigEndian.PutUint64(b[8:16], uint64(h.Expires))
	return b
}

// UnmarshalAspaHeader decodes a fixed-size ASPA header record.
func UnmarshalAspaHeader(b []byte) (AspaHeader, error) {
	if len(b) != AspaHeaderLen {
		return AspaHeader{}, serrors.New("bad aspa header length",
			"len", len(b), "expected", AspaHeaderLen)
	}
	return AspaHeader{
		CustomerAS: binary.BigEndian.Uint32(b[0:4]),
		Count:      binary.BigEndian.Uint32(b[4:8]),
		Expires:    int64(binary.BigEndian.Uint64(b[8:16])),
	}, nil
}

// MarshalASList encodes a flat provider AS array.
func MarshalASList(as []uint32) []byte {
	b := make([]byte, 4*len(as))
	for i, a := range as {
		binary.BigEndian.PutUint32(b[4*i:], a)
	}
	return b
}

// UnmarshalASList decodes a provider AS array of exactly count entries.
func UnmarshalASList(b []byte, count int) ([]uint32, error) {
	if len(b) != 4*count {
		return nil, serrors.New("bad provider list length",
			"len", len(b), "expected", 4*count)
	}
	as := make([]uint32, count)
	for i := range as {
		as[i] = binary.BigEndian.Uint32(b[4*i:])
	}
	return as, nil
}

// UnmarshalFamilyList decodes the per-provider family constraint bytes of
// an ASPA fragment stream. The list must have exactly count entries.
func UnmarshalFamilyList(b []byte, count int) ([]trust.Family, error) {
	if len(b) != count {
		return nil, serrors.New("bad family list length",
			"len", len(b), "expected", count)
	}
	fams := make([]trust.Family, count)
	for i, v := range b {
		f := trust.Family(v)
		if !f.Valid() {
			return nil, serrors.New("bad family constraint", "index", i, "value", v)
		}
		fams[i] = f
	}
	return fams, nil
}

// MarshalFamilyList encodes per-provider family constraints, one byte each.
func MarshalFamilyList(fams []trust.Family) []byte {
	b := make([]byte, len(fams))
	for i, f := range fams {
		b[i] = byte(f)
	}
	return b
}

// AspaPrep declares the total byte size and entry count of the ASPA half
// of a snapshot so the receiver can pre-size its storage.
type AspaPrep struct {
	DataSize uint64
	Entries  uint32
}

// MarshalAspaPrep encodes the prep record.
func MarshalAspaPrep(p AspaPrep) []byte {
	b := make([]byte, AspaPrepLen)
	binary.BigEndian.PutUint64(b[0:8], p.DataSize)
	binary.BigEndian.PutUint32(b[8:12], p.Entries)
	return b
}

// UnmarshalAspaPrep decodes the prep record.
func UnmarshalAspaPrep(b []byte) (AspaPrep, error) {
	if len(b) != AspaPrepLen {
		return AspaPrep{}, serrors.New("bad aspa prep length",
			"len", len(b), "expected", AspaPrepLen)
	}
	return AspaPrep{
		DataSize: binary.BigEndian.Uint64(b[0:8]),
		Entries:  binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// AspaSetBegin opens one ASPA set within a snapshot push.
type AspaSetBegin struct {
	CustomerAS uint32
	Count      uint32
}

// MarshalAspaSetBegin encodes the set begin record.
func MarshalAspaSetBegin(h AspaSetBegin) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], h.CustomerAS)
	binary.BigEndian.PutUint32(b[4:8], h.Count)
	return b
}

// UnmarshalAspaSetBegin decodes the set begin record.
func UnmarshalAspaSetBegin(b []byte) (AspaSetBegin, error) {
	if len(b) != 8 {
		return AspaSetBegin{}, serrors.New("bad aspa begin length",
			"len", len(b), "expected", 8)
	}
	return AspaSetBegin{
		CustomerAS: binary.BigEndian.Uint32(b[0:4]),
		Count:      binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// SessionParams is the router session descriptor carried in a
// SessionConfig message. The session id rides in the message header.
type SessionParams struct {
	// Descr is the human readable session description, at most
	// SessionDescrLen bytes.
	Descr string
	// RefreshInterval is the refresh interval in seconds.
	RefreshInterval uint32
	// ExpireInterval is the expire interval in seconds.
	ExpireInterval uint32
}

// MarshalSessionParams encodes the fixed-size session descriptor.
func MarshalSessionParams(p SessionParams) []byte {
	b := make([]byte, SessionParamsLen)
	copy(b[0:SessionDescrLen], p.Descr)
	binary.BigEndian.PutUint32(b[32:36], p.RefreshInterval)
	binary.BigEndian.PutUint32(b[36:40], p.ExpireInterval)
	return b
}

// UnmarshalSessionParams decodes the fixed-size session descriptor.
func UnmarshalSessionParams(b []byte) (SessionParams, error) {
	if len(b) != SessionParamsLen {
		return SessionParams{}, serrors.New("bad session params length",
			"len", len(b), "expected", SessionParamsLen)
	}
	descr := string(bytes.TrimRight(b[0:SessionDescrLen], "\x00"))
	return SessionParams{
		Descr:           descr,
		RefreshInterval: binary.BigEndian.Uint32(b[32:36]),
		ExpireInterval:  binary.BigEndian.Uint32(b[36:40]),
	}, nil
}

// SessionStatus is the reply to a ShowSession query.
type SessionStatus struct {
	Params SessionParams
	Open   bool
}

// MarshalSessionStatus encodes the status reply.
func MarshalSessionStatus(s SessionStatus) []byte {
	b := make([]byte, SessionStatusLen)
	copy(b, MarshalSessionParams(s.Params))
	if s.Open {
		b[SessionParamsLen] = 1
	}
	return b
}

// UnmarshalSessionStatus decodes the status reply.
func UnmarshalSessionStatus(b []byte) (SessionStatus, error) {
	if len(b) != SessionStatusLen {
		return SessionStatus{}, serrors.New("bad session status length",
			"len", len(b), "expected", SessionStatusLen)
	}
	params, err := UnmarshalSessionParams(b[:SessionParamsLen])
	if err != nil {
		return SessionStatus{}, err
	}
	return SessionStatus{Params: params, Open: b[SessionParamsLen] == 1}, nil
}
