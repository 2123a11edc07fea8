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

package trust_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustplane/trustd/trust"
)

func TestAddProviderKeepsOrder(t *testing.T) {
	set := &trust.ASPASet{CustomerAS: 65001}
	set.AddProvider(64503, trust.FamilyBoth)
	set.AddProvider(64501, trust.FamilyIPv4)
	set.AddProvider(64502, trust.FamilyIPv6)
	expected := []trust.Provider{
		{AS: 64501, Family: trust.FamilyIPv4},
		{AS: 64502, Family: trust.FamilyIPv6},
		{AS: 64503, Family: trust.FamilyBoth},
	}
	assert.Equal(t, expected, set.Providers)
}

func TestFamilyWideningCommutative(t *testing.T) {
	tests := map[string]struct {
		first, second trust.Family
		expected      trust.Family
	}{
		"v4 then v6":   {trust.FamilyIPv4, trust.FamilyIPv6, trust.FamilyBoth},
		"v6 then v4":   {trust.FamilyIPv6, trust.FamilyIPv4, trust.FamilyBoth},
		"v4 then v4":   {trust.FamilyIPv4, trust.FamilyIPv4, trust.FamilyIPv4},
		"v4 then both": {trust.FamilyIPv4, trust.FamilyBoth, trust.FamilyBoth},
		"both then v6": {trust.FamilyBoth, trust.FamilyIPv6, trust.FamilyBoth},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			set := &trust.ASPASet{CustomerAS: 65001}
			set.AddProvider(64500, test.first)
			set.AddProvider(64500, test.second)
			require.Len(t, set.Providers, 1)
			assert.Equal(t, trust.Provider{AS: 64500, Family: test.expected},
				set.Providers[0])
		})
	}
}

func TestMergeIdempotent(t *testing.T) {
	src := &trust.ASPASet{
		CustomerAS: 65001,
		Providers: []trust.Provider{
			{AS: 64501, Family: trust.FamilyIPv4},
			{AS: 64502, Family: trust.FamilyBoth},
		},
	}
	once := &trust.ASPASet{CustomerAS: 65001}
	once.Merge(src)
	twice := &trust.ASPASet{CustomerAS: 65001}
	twice.Merge(src)
	twice.Merge(src)
	assert.Empty(t, cmp.Diff(once, twice))
}

func TestCloneIsDeep(t *testing.T) {
	src := &trust.ASPASet{
		CustomerAS: 65001,
		Providers:  []trust.Provider{{AS: 64501, Family: trust.FamilyIPv4}},
		Expires:    42,
	}
	clone := src.Clone()
	clone.AddProvider(64500, trust.FamilyBoth)
	clone.Providers[1].Family = trust.FamilyBoth
	assert.Len(t, src.Providers, 1)
	assert.Equal(t, trust.FamilyIPv4, src.Providers[0].Family)
	assert.Equal(t, int64(42), clone.Expires)
}

func TestSortROAs(t *testing.T) {
	v4 := roa(t, "10.0.0.0/8", 24, 65000)
	v4long := roa(t, "10.0.0.0/9", 24, 65000)
	v6 := roa(t, "2001:db8::/32", 48, 65000)
	rs := []trust.ROA{v6, v4long, v4}
	trust.SortROAs(rs)
	assert.Equal(t, []trust.ROA{v4, v4long, v6}, rs)
}
