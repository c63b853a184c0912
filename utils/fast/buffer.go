package fast

// Reader is a position-tracking wrapper around a byte slice. Reads past the
// end panic; callers recover at the codec boundary.
type Reader struct {
	buf    []byte
	offset int
}

// Writer is an append-only byte buffer.
type Writer struct {
	buf []byte
}

// NewReader wraps the byte slice into Reader
func NewReader(bb []byte) *Reader {
	return &Reader{
		buf:    bb,
		offset: 0,
	}
}

// NewWriter wraps the byte slice into Writer
func NewWriter(bb []byte) *Writer {
	return &Writer{
		buf: bb,
	}
}

// WriteByte to the buffer
func (b *Writer) WriteByte(v byte) {
	b.buf = append(b.buf, v)
}

// Write the byte slice to the buffer
func (b *Writer) Write(v []byte) {
	b.buf = append(b.buf, v...)
}

// Read the next n bytes. The returned slice aliases the buffer.
func (b *Reader) Read(n int) []byte {
	res := b.buf[b.offset : b.offset+n]
	b.offset += n
	return res
}

// ReadByte reads the next byte
func (b *Reader) ReadByte() byte {
	res := b.buf[b.offset]
	b.offset++
	return res
}

// Position of the reader
func (b *Reader) Position() int {
	return b.offset
}

// Bytes returns the underlying buffer
func (b *Reader) Bytes() []byte {
	return b.buf
}

// Bytes returns the written content
func (b *Writer) Bytes() []byte {
	return b.buf
}

// Empty returns true if the whole buffer is consumed
func (b *Reader) Empty() bool {
	return len(b.buf) == b.offset
}
