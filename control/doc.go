// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime introspection for the loop: named probe registration and
// snapshot dumps of live resource state (session counts, pool bytes,
// spill store size).
package control
