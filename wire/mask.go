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
	"encoding/binary"

	"github.com/trustplane/trustd/pkg/serrors"
	"github.com/trustplane/trustd/trust"
)

// The snapshot push compresses per-provider family constraints into 2-bit
// codes, 16 codes per 32-bit word. If every provider of a set is valid for
// both families the mask is omitted from the push entirely.

// MaskWords returns the number of 32-bit words needed to pack count codes.
func MaskWords(count int) int {
	return (count + 15) / 16
}

// PackFamilyMask packs the family constraints of the given providers.
// The second return value reports whether any provider carries a
// single-family constraint; if false the mask must be omitted.
func PackFamilyMask(ps []trust.Provider) ([]uint32, bool) {
	words := make([]uint32, MaskWords(len(ps)))
	needed := false
	for i, p := range ps {
		code := uint32(trust.FamilyBoth)
		switch p.Family {
		case trust.FamilyIPv4, trust.FamilyIPv6:
			code = uint32(p.Family)
			needed = true
		}
		words[i/16] |= code << ((i % 16) * 2)
	}
	if !needed {
		return nil, false
	}
	return words, true
}

// UnpackFamilyMask expands a packed mask back into count per-provider
// constraints.
func UnpackFamilyMask(words []uint32, count int) ([]trust.Family, error) {
	if len(words) != MaskWords(count) {
		return nil, serrors.New("bad family mask length",
			"words", len(words), "expected", MaskWords(count))
	}
	fams := make([]trust.Family, count)
	for i := range fams {
		f := trust.Family(words[i/16] >> ((i % 16) * 2) & 0x3)
		if !f.Valid() {
			return nil, serrors.New("bad family mask code", "index", i, "code", f)
		}
		fams[i] = f
	}
	return fams, nil
}

// MarshalMaskWords encodes packed mask words for transfer.
func MarshalMaskWords(words []uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint32(b[4*i:], w)
	}
	return b
}

// UnmarshalMaskWords decodes packed mask words.
func UnmarshalMaskWords(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, serrors.New("bad mask word alignment", "len", len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.BigEndian.Uint32(b[4*i:])
	}
	return words, nil
}
