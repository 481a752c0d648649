package buffer_test

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/nioloop/core/buffer"
	"github.com/momentics/nioloop/store"
)

func openStore(t *testing.T, storeSize int64, regionSize int) *store.FileStore {
	t.Helper()
	s, err := store.Open("StreamStore", storeSize, regionSize)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// feed copies raw bytes into pool buffers and appends them to the stream,
// the way a session read path does.
func feed(t *testing.T, in *buffer.InputStream, pool buffer.Pool, data []byte) {
	t.Helper()
	for len(data) > 0 {
		b, err := pool.Allocate()
		require.NoError(t, err)
		n := b.Write(data)
		data = data[n:]
		in.Append(b)
	}
}

func TestInputStreamReadAcrossBoundaries(t *testing.T) {
	pool := buffer.NewHeapPool(64*blockSize, blockSize)
	in := buffer.NewInputStream()

	payload := []byte(bytes.Repeat([]byte("0123456789"), 20)) // 200 bytes, >3 blocks
	feed(t, in, pool, payload)
	require.Equal(t, len(payload), in.Available())

	var released []int
	in.SetReleaseListener(func(resident int) { released = append(released, resident) })

	got := make([]byte, len(payload))
	n, err := in.Read(got)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, got)

	require.Zero(t, in.Available())
	require.Zero(t, in.Buffers())
	require.NotEmpty(t, released)
	require.Zero(t, pool.CurrentBytes(), "all drained buffers must return to the pool")

	_, err = in.Read(got)
	require.Equal(t, io.EOF, err)
}

func TestInputStreamSkip(t *testing.T) {
	pool := buffer.NewHeapPool(64*blockSize, blockSize)
	in := buffer.NewInputStream()
	feed(t, in, pool, bytes.Repeat([]byte{7}, 3*blockSize))

	require.Equal(t, blockSize+3, in.Skip(blockSize+3))
	require.Equal(t, 2*blockSize-3, in.Available())

	// skipping past the end stops at the end
	require.Equal(t, 2*blockSize-3, in.Skip(10*blockSize))
	require.Zero(t, in.Available())
}

// chunkWriter accepts at most cap bytes per call, modelling a slow socket.
type chunkWriter struct {
	buf bytes.Buffer
	cap int
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if len(p) > w.cap {
		p = p[:w.cap]
	}
	return w.buf.Write(p)
}

func TestStreamRoundTripAcrossSpill(t *testing.T) {
	for _, maxWrite := range []int{1, 2, 4} {
		// the budget must hold the whole 10_000-byte payload (157 blocks)
		// for the input-stream leg below
		pool := buffer.NewHeapPool(int64(256*blockSize), blockSize)
		fs := openStore(t, 1<<20, blockSize)
		out := buffer.NewOutputStream(pool, fs, maxWrite)

		payload := make([]byte, 10_000)
		rng := rand.New(rand.NewSource(int64(maxWrite)))
		rng.Read(payload)

		n, err := out.Write(payload)
		require.NoError(t, err)
		require.Equal(t, len(payload), n)
		require.Equal(t, int64(len(payload)), out.Size())
		require.LessOrEqual(t, out.MemoryBuffers(), maxWrite)
		require.Positive(t, fs.Size(), "bytes past the memory budget must spill")

		w := &chunkWriter{cap: 100}
		for !out.IsEmpty() {
			_, err := out.DrainTo(w, 16)
			require.NoError(t, err)
		}
		require.Equal(t, payload, w.buf.Bytes())
		require.Zero(t, out.Size())
		require.Zero(t, fs.Size(), "drained regions must be released")
		require.Zero(t, pool.CurrentBytes())

		// round-trip the drained bytes back through an input stream
		in := buffer.NewInputStream()
		feed(t, in, pool, w.buf.Bytes())
		back, err := io.ReadAll(in)
		require.NoError(t, err)
		require.Equal(t, payload, back)

		fs.Close()
	}
}

func TestOutputStreamSpillAndFileShrink(t *testing.T) {
	const bufSize = 4096
	pool := buffer.NewHeapPool(64*bufSize, bufSize)
	fs := openStore(t, 1<<20, bufSize)
	out := buffer.NewOutputStream(pool, fs, 2)

	payload := make([]byte, 64*1024)
	rand.New(rand.NewSource(42)).Read(payload)
	_, err := out.Write(payload)
	require.NoError(t, err)

	// 2 buffers stay resident, at least 56 KiB transits the file
	require.Equal(t, 2, out.MemoryBuffers())
	require.GreaterOrEqual(t, fs.Size(), int64(56*1024))

	var sink bytes.Buffer
	for !out.IsEmpty() {
		_, err := out.DrainTo(&sink, 16)
		require.NoError(t, err)
	}
	require.Equal(t, payload, sink.Bytes())
	require.Zero(t, fs.Size())
	require.Zero(t, fs.MaxID(), "all regions released, file back to zero length")
}

func TestOutputStreamSpillsOnPoolExhaustion(t *testing.T) {
	// budget of two blocks but a much higher resident allowance: the pool
	// cap, not maxWriteBuffers, forces the spill
	pool := buffer.NewHeapPool(2*blockSize, blockSize)
	fs := openStore(t, 1<<16, blockSize)
	out := buffer.NewOutputStream(pool, fs, 64)

	payload := bytes.Repeat([]byte{3}, 5*blockSize)
	n, err := out.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, 2, out.MemoryBuffers())
	require.Equal(t, int64(3*blockSize), fs.Size())

	var sink bytes.Buffer
	for !out.IsEmpty() {
		_, err := out.DrainTo(&sink, 4)
		require.NoError(t, err)
	}
	require.Equal(t, payload, sink.Bytes())
}

func TestOutputStreamWriteBuffer(t *testing.T) {
	pool := buffer.NewHeapPool(8*blockSize, blockSize)
	fs := openStore(t, 1<<16, blockSize)
	out := buffer.NewOutputStream(pool, fs, 8)

	b, err := pool.Allocate()
	require.NoError(t, err)
	b.Write([]byte("pooled payload"))
	out.WriteBuffer(b)
	require.Equal(t, int64(14), out.Size())

	var sink bytes.Buffer
	_, err = out.DrainTo(&sink, 4)
	require.NoError(t, err)
	require.Equal(t, "pooled payload", sink.String())
	require.Zero(t, pool.CurrentBytes(), "ownership transferred and released on drain")
}

func TestOutputStreamPartialWriteYields(t *testing.T) {
	pool := buffer.NewHeapPool(8*blockSize, blockSize)
	fs := openStore(t, 1<<16, blockSize)
	out := buffer.NewOutputStream(pool, fs, 8)

	_, err := out.Write(bytes.Repeat([]byte{9}, 2*blockSize))
	require.NoError(t, err)

	w := &chunkWriter{cap: 10}
	n, err := out.DrainTo(w, 16)
	require.NoError(t, err)
	require.Equal(t, int64(10), n, "partial write must stop the drain")
	require.Equal(t, int64(2*blockSize-10), out.Size())
}
