// File: store/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package store manages a pool of fixed-size regions inside one temporary
// file. Output streams spill into regions when the memory buffer budget is
// exhausted; regions are recycled through a free list and the file shrinks
// when the highest-numbered region is released.
package store
