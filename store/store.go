// File: store/store.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// File-backed region pool with positional IO.

package store

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/momentics/nioloop/api"
)

var log = logrus.WithField("logger", "nioloop.store")

// FileStore manages a pool of FileRegion slices over one temporary file.
// All methods must be called from the loop thread.
type FileStore struct {
	name       string
	regionSize int
	storeSize  int64

	file *os.File
	pool []*FileRegion // free list, excluding the top region fast path

	maxID int64
	size  int64 // sum of ReadRemaining over live regions

	scratch []byte
	closed  bool
}

// Open creates a FileStore backed by a fresh temp file in the system temp
// directory. storeSize caps the total file length; regionSize is the fixed
// region granularity.
func Open(name string, storeSize int64, regionSize int) (*FileStore, error) {
	f, err := os.CreateTemp("", "nioloop.*.tmp")
	if err != nil {
		return nil, err
	}
	s := &FileStore{
		name:       name,
		regionSize: regionSize,
		storeSize:  storeSize,
		file:       f,
	}
	log.Infof("%s: open %s, storeSize = %d, regionSize = %d", name, f.Name(), storeSize, regionSize)
	return s, nil
}

// Name returns the store name.
func (s *FileStore) Name() string { return s.name }

// Path returns the backing file's path.
func (s *FileStore) Path() string { return s.file.Name() }

// RegionSize returns the fixed region granularity in bytes.
func (s *FileStore) RegionSize() int { return s.regionSize }

// Size returns the total unread bytes across live regions.
func (s *FileStore) Size() int64 { return s.size }

// MaxID returns the current high-water region count; the file length is
// MaxID()*RegionSize() at quiescent points.
func (s *FileStore) MaxID() int64 { return s.maxID }

// IsOpen reports whether the store accepts operations.
func (s *FileStore) IsOpen() bool { return !s.closed }

// Allocate returns an unused region from the free list, or extends the file
// by one region. Allocation fails once storeSize/regionSize regions are live.
func (s *FileStore) Allocate() (*FileRegion, error) {
	if s.closed {
		return nil, api.ErrStoreClosed
	}
	if n := len(s.pool); n > 0 {
		region := s.pool[n-1]
		s.pool = s.pool[:n-1]
		region.onAllocate()
		return region, nil
	}
	if (s.maxID+1)*int64(s.regionSize) > s.storeSize {
		return nil, &api.AllocateError{Resource: "fileStore", Reason: "exceeds store size limit"}
	}
	region := &FileRegion{store: s, id: s.maxID}
	s.maxID++
	region.onAllocate()
	return region, nil
}

// Release returns a region to the pool. An intermediate release only
// recycles the slot, leaking its file bytes until the top region goes;
// releasing the top region shrinks maxID past it and past any pooled
// regions below, then truncates the file in one step.
func (s *FileStore) Release(region *FileRegion) {
	if region.store != s {
		log.Warnf("%s: region not allocated from this store - %s", s.name, region)
		return
	}
	if region.released {
		return
	}
	s.size -= int64(region.ReadRemaining())
	region.onRelease()
	if region.id != s.maxID-1 {
		s.pool = append(s.pool, region.clear())
		return
	}
	s.maxID--
	for swept := true; swept; {
		swept = false
		for i, free := range s.pool {
			if free.id == s.maxID-1 {
				s.pool[i] = s.pool[len(s.pool)-1]
				s.pool = s.pool[:len(s.pool)-1]
				s.maxID--
				swept = true
				break
			}
		}
	}
	s.truncate(s.maxID * int64(s.regionSize))
}

// Write copies bytes from src into the region at its write index, bounded
// by the region's write-remaining count. Returns the bytes consumed.
func (s *FileStore) Write(region *FileRegion, src []byte) (int, error) {
	if s.closed {
		return 0, api.ErrStoreClosed
	}
	if err := region.checkNotReleased(); err != nil {
		return 0, err
	}
	size := min(region.WriteRemaining(), len(src))
	if size == 0 {
		return 0, nil
	}
	pos := region.id*int64(s.regionSize) + int64(region.widx)
	n, err := s.file.WriteAt(src[:size], pos)
	s.size += int64(n)
	region.widx += n
	return n, err
}

// Read copies unread bytes from the region into dst, advancing the read
// index. A short positional read surfaces as ErrStoreTruncated.
func (s *FileStore) Read(region *FileRegion, dst []byte) (int, error) {
	if s.closed {
		return 0, api.ErrStoreClosed
	}
	if err := region.checkNotReleased(); err != nil {
		return 0, err
	}
	size := min(region.ReadRemaining(), len(dst))
	if size == 0 {
		return 0, nil
	}
	pos := region.id*int64(s.regionSize) + int64(region.ridx)
	n, err := s.file.ReadAt(dst[:size], pos)
	if err == io.EOF || (err == nil && n < size) {
		return n, api.ErrStoreTruncated
	}
	s.size -= int64(n)
	region.ridx += n
	return n, err
}

// TransferTo moves up to count unread region bytes into w, advancing the
// read index only by what w accepted. Short or zero writes are reported in
// the returned count, not as errors.
func (s *FileStore) TransferTo(region *FileRegion, count int, w io.Writer) (int, error) {
	if s.closed {
		return 0, api.ErrStoreClosed
	}
	if err := region.checkNotReleased(); err != nil {
		return 0, err
	}
	size := min(region.ReadRemaining(), count)
	if size == 0 {
		return 0, nil
	}
	buf := s.scratchBuf()
	pos := region.id*int64(s.regionSize) + int64(region.ridx)
	rn, err := s.file.ReadAt(buf[:size], pos)
	if err == io.EOF || (err == nil && rn < size) {
		return 0, api.ErrStoreTruncated
	}
	if err != nil {
		return 0, err
	}
	wn, err := w.Write(buf[:size])
	s.size -= int64(wn)
	region.ridx += wn
	return wn, err
}

// TransferFrom moves up to count bytes from r into the region at its write
// index, advancing the write index by what was read.
func (s *FileStore) TransferFrom(region *FileRegion, r io.Reader, count int) (int, error) {
	if s.closed {
		return 0, api.ErrStoreClosed
	}
	if err := region.checkNotReleased(); err != nil {
		return 0, err
	}
	size := min(region.WriteRemaining(), count)
	if size == 0 {
		return 0, nil
	}
	buf := s.scratchBuf()
	n, err := r.Read(buf[:size])
	if n > 0 {
		pos := region.id*int64(s.regionSize) + int64(region.widx)
		wn, werr := s.file.WriteAt(buf[:n], pos)
		s.size += int64(wn)
		region.widx += wn
		if werr != nil {
			return wn, werr
		}
	}
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Force flushes file content and metadata. The meta flag is ignored: both
// are always synced.
func (s *FileStore) Force(meta bool) error {
	_ = meta
	return s.file.Sync()
}

// Close truncates, closes and deletes the backing file. Idempotent.
func (s *FileStore) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.pool = nil
	s.size = 0
	s.maxID = 0
	s.truncate(0)
	name := s.file.Name()
	if err := s.file.Close(); err != nil {
		log.Warnf("%s: close error: %v", s.name, err)
	}
	if err := os.Remove(name); err != nil {
		log.Warnf("%s: remove %s: %v", s.name, name, err)
	}
}

// truncate is best effort; failure to shrink does not affect correctness.
func (s *FileStore) truncate(size int64) {
	if err := s.file.Truncate(size); err != nil {
		log.Debugf("%s: truncate to %d failed: %v", s.name, size, err)
	}
}

func (s *FileStore) scratchBuf() []byte {
	if s.scratch == nil {
		s.scratch = make([]byte, s.regionSize)
	}
	return s.scratch
}

func (s *FileStore) String() string { return s.name }
