/*
Copyright 2024 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package keys provides the key equality and hash capability supplied per query.
package keys

import (
	"encoding/binary"
	"fmt"

	"github.com/spaolacci/murmur3"
)

// Comparer decides key equality and produces the 32 bit hash stored in a batch's hash column.
// Equal keys must have equal hashes.
type Comparer[K any] interface {
	Equals(a, b K) bool
	Hash(k K) int32
}

// Funcs adapts a pair of functions to a Comparer.
type Funcs[K any] struct {
	EqualsFunc func(a, b K) bool
	HashFunc   func(k K) int32
}

func (f Funcs[K]) Equals(a, b K) bool { return f.EqualsFunc(a, b) }

func (f Funcs[K]) Hash(k K) int32 { return f.HashFunc(k) }

// String compares strings and hashes them with murmur3.
type String struct{}

func (String) Equals(a, b string) bool { return a == b }

func (String) Hash(k string) int32 {
	return int32(murmur3.Sum32([]byte(k)))
}

// Int64 compares and hashes int64 keys.
type Int64 struct{}

func (Int64) Equals(a, b int64) bool { return a == b }

func (Int64) Hash(k int64) int32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(k))
	return int32(murmur3.Sum32(buf[:]))
}

// Int compares and hashes int keys.
type Int struct{}

func (Int) Equals(a, b int) bool { return a == b }

func (Int) Hash(k int) int32 { return Int64{}.Hash(int64(k)) }

// Empty is the key of an ungrouped stream.
type Empty struct{}

// EmptyComparer treats every Empty key as equal.
type EmptyComparer struct{}

func (EmptyComparer) Equals(Empty, Empty) bool { return true }

func (EmptyComparer) Hash(Empty) int32 { return 0 }

// Comparable compares keys with == and hashes their printed form. It is a convenience for tests
// and small key domains.
type Comparable[K comparable] struct{}

func (Comparable[K]) Equals(a, b K) bool { return a == b }

func (Comparable[K]) Hash(k K) int32 {
	return int32(murmur3.Sum32([]byte(fmt.Sprint(k))))
}

// Compound is the key of a nested grouping. It remembers the outer key so that the grouping can
// later be undone.
type Compound[O, I any] struct {
	Outer O `json:"outer"`
	Inner I `json:"inner"`
}

// CompoundComparer compares compound keys component-wise. The hash of a compound key is the XOR of
// its component hashes so that it stays consistent when only the inner key is rehashed.
type CompoundComparer[O, I any] struct {
	Outer Comparer[O]
	Inner Comparer[I]
}

// NewCompoundComparer returns a Comparer of compound keys.
func NewCompoundComparer[O, I any](outer Comparer[O], inner Comparer[I]) CompoundComparer[O, I] {
	return CompoundComparer[O, I]{Outer: outer, Inner: inner}
}

func (c CompoundComparer[O, I]) Equals(a, b Compound[O, I]) bool {
	return c.Outer.Equals(a.Outer, b.Outer) && c.Inner.Equals(a.Inner, b.Inner)
}

func (c CompoundComparer[O, I]) Hash(k Compound[O, I]) int32 {
	return Combine(c.Outer.Hash(k.Outer), c.Inner.Hash(k.Inner))
}

// Combine merges an outer and an inner hash.
func Combine(outer, inner int32) int32 {
	return outer ^ inner
}
