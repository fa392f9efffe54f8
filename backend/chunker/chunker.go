package chunker

import (
	"fmt"
	"io"

	"github.com/joaooservit/oserv-cloud-storage/backend/pool"
)

// Range is one contiguous slice of a file in an upload session.
type Range struct {
	Index    int
	Offset   int64
	Length   int64
	LastPart bool
}

// End is the inclusive last byte of the range, as sent in Content-Range.
func (r Range) End() int64 { return r.Offset + r.Length - 1 }

type Chunk struct {
	Range
	Data []byte
}

// Count is ceil(total/chunkSize); an empty file has no chunks.
func Count(total, chunkSize int64) int {
	if chunkSize <= 0 {
		panic("chunkSize must be > 0")
	}
	if total <= 0 {
		return 0
	}
	return int((total + chunkSize - 1) / chunkSize) // ceil div
}

// Plan lays out the ranges covering [0,total) in order.
func Plan(total, chunkSize int64) []Range {
	n := Count(total, chunkSize)
	out := make([]Range, 0, n)
	for offset := int64(0); offset < total; offset += chunkSize {
		length := chunkSize
		if remaining := total - offset; remaining < chunkSize {
			length = remaining
		}
		out = append(out, Range{
			Index:    len(out),
			Offset:   offset,
			Length:   length,
			LastPart: offset+length == total,
		})
	}
	return out
}

// Reader pulls fixed-size chunks from a stream of known length. Next returns
// io.EOF once a read yields no bytes.
type Reader struct {
	src       io.Reader
	total     int64
	chunkSize int64
	offset    int64
	index     int
	buffers   *pool.BufferPool
}

func NewReader(src io.Reader, total, chunkSize int64) *Reader {
	if chunkSize <= 0 {
		panic("chunkSize must be > 0")
	}
	return &Reader{
		src:       io.LimitReader(src, total),
		total:     total,
		chunkSize: chunkSize,
	}
}

// WithBuffers makes Next draw chunk data from bp. Callers hand each chunk
// back with Release once the store has accepted it.
func (cr *Reader) WithBuffers(bp *pool.BufferPool) *Reader {
	cr.buffers = bp
	return cr
}

func (cr *Reader) Offset() int64 { return cr.offset }

// Release returns a chunk's buffer to the pool. c.Data must not be used
// afterwards.
func (cr *Reader) Release(c Chunk) {
	if cr.buffers != nil && c.Data != nil {
		cr.buffers.PutBuffer(c.Data)
	}
}

func (cr *Reader) alloc(n int64) []byte {
	if cr.buffers == nil {
		return make([]byte, n)
	}
	return cr.buffers.GetBuffer(int(n))
}

func (cr *Reader) Next() (Chunk, error) {
	want := cr.chunkSize
	if remaining := cr.total - cr.offset; remaining < want {
		want = remaining
	}
	if want <= 0 {
		return Chunk{}, io.EOF
	}

	buf := cr.alloc(want)
	n, err := io.ReadFull(cr.src, buf)
	if err != nil {
		cr.Release(Chunk{Data: buf})
	}
	if n == 0 {
		if err == nil || err == io.EOF {
			return Chunk{}, fmt.Errorf("source ended at %d of %d bytes: %w", cr.offset, cr.total, io.ErrUnexpectedEOF)
		}
		return Chunk{}, err
	}
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			return Chunk{}, fmt.Errorf("source ended at %d of %d bytes: %w", cr.offset+int64(n), cr.total, err)
		}
		return Chunk{}, err
	}

	c := Chunk{
		Range: Range{
			Index:    cr.index,
			Offset:   cr.offset,
			Length:   int64(n),
			LastPart: cr.offset+int64(n) == cr.total,
		},
		Data: buf[:n],
	}
	cr.offset += int64(n)
	cr.index++
	return c, nil
}
