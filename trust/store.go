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

package trust

import (
	"strconv"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/trustplane/trustd/pkg/serrors"
)

// ErrDuplicateASPA is returned when a set for an already known customer AS
// is added.
var ErrDuplicateASPA = serrors.New("duplicate aspa set")

// Store keeps the ROA and ASPA collections of one configuration instance.
// Entries carry their own expiry; expired entries are removed by the
// counted sweep methods and are invisible to iteration once stale. The
// store is not safe for concurrent use; the engine serializes all access
// on its event loop.
type Store struct {
	roas  *cache.Cache
	aspas *cache.Cache
}

// NewStore returns an empty store.
func NewStore() *Store {
	// Janitor disabled; sweeps run on the engine's timer only.
	return &Store{
		roas:  cache.New(cache.NoExpiration, 0),
		aspas: cache.New(cache.NoExpiration, 0),
	}
}

// ttl converts an absolute unix expiry into a cache duration. Entries that
// are already stale get a minimal positive ttl so the next sweep collects
// them instead of keeping them forever.
func ttl(expires int64) time.Duration {
	if expires == 0 {
		return cache.NoExpiration
	}
	d := time.Until(time.Unix(expires, 0))
	if d <= 0 {
		return time.Nanosecond
	}
	return d
}

// InsertROA adds the entry unless an exact duplicate exists. It reports
// whether the entry was added.
func (s *Store) InsertROA(r ROA) bool {
	return s.roas.Add(r.Key(), r, ttl(r.Expires)) == nil
}

// AddASPA adds a complete set. A set for an already known customer AS is
// rejected with ErrDuplicateASPA and the store is left unchanged.
func (s *Store) AddASPA(set *ASPASet) error {
	key := strconv.FormatUint(uint64(set.CustomerAS), 10)
	if s.aspas.Add(key, set, ttl(set.Expires)) != nil {
		return ErrDuplicateASPA
	}
	return nil
}

// InsertOrMergeASPA inserts a new customer-AS entry or merges the providers
// of set into the existing one. Merging is idempotent.
func (s *Store) InsertOrMergeASPA(set *ASPASet) {
	key := strconv.FormatUint(uint64(set.CustomerAS), 10)
	if v, ok := s.aspas.Get(key); ok {
		v.(*ASPASet).Merge(set)
		return
	}
	s.aspas.Set(key, set.Clone(), ttl(set.Expires))
}

// ROAs returns all live entries in unspecified order.
func (s *Store) ROAs() []ROA {
	items := s.roas.Items()
	rs := make([]ROA, 0, len(items))
	for _, it := range items {
		rs = append(rs, it.Object.(ROA))
	}
	return rs
}

// ASPAs returns all live sets in unspecified order.
func (s *Store) ASPAs() []*ASPASet {
	items := s.aspas.Items()
	sets := make([]*ASPASet, 0, len(items))
	for _, it := range items {
		sets = append(sets, it.Object.(*ASPASet))
	}
	return sets
}

// ROACount returns the number of live ROA entries.
func (s *Store) ROACount() int { return len(s.roas.Items()) }

// ASPACount returns the number of live ASPA sets.
func (s *Store) ASPACount() int { return len(s.aspas.Items()) }

// ExpireROAs removes every entry whose expiry has passed and returns the
// number of removed entries. A non-zero count means the published snapshot
// is stale.
func (s *Store) ExpireROAs() int {
	return sweep(s.roas)
}

// ExpireASPAs removes every set whose expiry has passed and returns the
// number of removed sets.
func (s *Store) ExpireASPAs() int {
	return sweep(s.aspas)
}

func sweep(c *cache.Cache) int {
	var n int
	c.OnEvicted(func(string, interface{}) { n++ })
	c.DeleteExpired()
	c.OnEvicted(nil)
	return n
}

// Swap replaces the content of s with the content of staged in O(1),
// discarding the previous content. The staged store is emptied.
func (s *Store) Swap(staged *Store) {
	s.roas, staged.roas = staged.roas, cache.New(cache.NoExpiration, 0)
	s.aspas, staged.aspas = staged.aspas, cache.New(cache.NoExpiration, 0)
}
