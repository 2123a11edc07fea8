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

// Package trust holds the routing trust objects distributed by the engine:
// Route Origin Authorizations (ROA) and Autonomous System Provider
// Authorizations (ASPA), together with the store keeping them.
package trust

import (
	"fmt"
	"net/netip"
	"sort"
)

// Family is the address family constraint attached to an ASPA provider.
type Family uint8

// The address family constraints. A provider carrying FamilyBoth is valid
// for IPv4 and IPv6 announcements alike.
const (
	FamilyIPv4 Family = 1
	FamilyIPv6 Family = 2
	FamilyBoth Family = 3
)

// Valid reports whether f is a known family constraint.
func (f Family) Valid() bool {
	return f >= FamilyIPv4 && f <= FamilyBoth
}

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	case FamilyBoth:
		return "both"
	default:
		return fmt.Sprintf("family(%d)", uint8(f))
	}
}

// Widen combines two family constraints for the same provider. Two
// disagreeing constraints widen to FamilyBoth.
func (f Family) Widen(o Family) Family {
	if f == o {
		return f
	}
	return FamilyBoth
}

// ROA is a single Route Origin Authorization entry. It is immutable after
// insertion; its identity is the full field tuple.
type ROA struct {
	// Prefix is the authorized prefix. Its address decides the family.
	Prefix netip.Prefix
	// MaxLength is the longest announced prefix length still covered.
	MaxLength uint8
	// OriginAS is the AS authorized to originate the prefix.
	OriginAS uint32
	// Expires is the unix time after which the entry is stale, 0 for never.
	Expires int64
}

// Key returns the identifying tuple of the entry in string form.
func (r ROA) Key() string {
	return fmt.Sprintf("%s-%d-%d-%d", r.Prefix, r.MaxLength, r.OriginAS, r.Expires)
}

func (r ROA) String() string {
	return fmt.Sprintf("%s maxlen %d source-as %d", r.Prefix, r.MaxLength, r.OriginAS)
}

// less orders ROAs canonically: family, prefix address, prefix length,
// max length, origin AS, expiry.
func (r ROA) less(o ROA) bool {
	if i4, o4 := r.Prefix.Addr().Is4(), o.Prefix.Addr().Is4(); i4 != o4 {
		return i4
	}
	if c := r.Prefix.Addr().Compare(o.Prefix.Addr()); c != 0 {
		return c < 0
	}
	if r.Prefix.Bits() != o.Prefix.Bits() {
		return r.Prefix.Bits() < o.Prefix.Bits()
	}
	if r.MaxLength != o.MaxLength {
		return r.MaxLength < o.MaxLength
	}
	if r.OriginAS != o.OriginAS {
		return r.OriginAS < o.OriginAS
	}
	return r.Expires < o.Expires
}

// SortROAs sorts rs into canonical order.
func SortROAs(rs []ROA) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].less(rs[j]) })
}

// Provider is one entry of an ASPA provider list.
type Provider struct {
	AS     uint32
	Family Family
}

// ASPASet declares the valid upstream providers of a customer AS. The
// provider list is kept sorted ascending by provider AS and free of
// duplicates at all times.
type ASPASet struct {
	// CustomerAS is the AS the set declares providers for.
	CustomerAS uint32
	// Providers is the sorted provider list.
	Providers []Provider
	// Expires is the unix time after which the set is stale, 0 for never.
	Expires int64
}

// AddProvider merges a single provider into the set, keeping the list
// sorted. An already present provider with a disagreeing family constraint
// is widened to FamilyBoth.
func (s *ASPASet) AddProvider(as uint32, fam Family) {
	i := sort.Search(len(s.Providers), func(i int) bool {
		return s.Providers[i].AS >= as
	})
	if i < len(s.Providers) && s.Providers[i].AS == as {
		s.Providers[i].Family = s.Providers[i].Family.Widen(fam)
		return
	}
	s.Providers = append(s.Providers, Provider{})
	copy(s.Providers[i+1:], s.Providers[i:])
	s.Providers[i] = Provider{AS: as, Family: fam}
}

// Merge merges all providers of o into s.
func (s *ASPASet) Merge(o *ASPASet) {
	for _, p := range o.Providers {
		s.AddProvider(p.AS, p.Family)
	}
}

// Clone returns a deep copy of the set.
func (s *ASPASet) Clone() *ASPASet {
	c := &ASPASet{
		CustomerAS: s.CustomerAS,
		Providers:  make([]Provider, len(s.Providers)),
		Expires:    s.Expires,
	}
	copy(c.Providers, s.Providers)
	return c
}

// SortASPAs sorts sets ascending by customer AS.
func SortASPAs(sets []*ASPASet) {
	sort.Slice(sets, func(i, j int) bool {
		return sets[i].CustomerAS < sets[j].CustomerAS
	})
}
