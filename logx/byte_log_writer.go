package logx

import (
	"bytes"
	"io"
	"sync"
	"unicode"
)

// ByteLogWriter forwards verbatim bytes to a destination writer, and keeps the last MaxBytes of what it wrote in a
// fixed-capacity circular buffer for later retrieval. The Reply Writer uses it to capture the tail of a reply that
// failed mid-write, so a warning log entry can show what the client actually received before the connection broke.
// Unlike a writer sized to grow with its input, this buffer is allocated once at MaxBytes and never resized: every
// caller in this engine constructs it with a fixed size (daemon/filterd's maxLogWriterBytes), so there is no case
// where a growable backing array earns its complexity.
type ByteLogWriter struct {
	MaxBytes    int
	destination io.Writer

	mutex    sync.Mutex
	buf      []byte
	writePos int
	wrapped  bool
}

// NewByteLogWriter initialises a new ByteLogWriter and returns it.
func NewByteLogWriter(destination io.Writer, maxBytes int) *ByteLogWriter {
	if maxBytes < 1 {
		maxBytes = 1
	}
	return &ByteLogWriter{
		destination: destination,
		MaxBytes:    maxBytes,
		buf:         make([]byte, maxBytes),
	}
}

// absorb copies in into the circular buffer, keeping only the most recent MaxBytes.
func (writer *ByteLogWriter) absorb(in []byte) {
	if len(in) >= len(writer.buf) {
		copy(writer.buf, in[len(in)-len(writer.buf):])
		writer.writePos = 0
		writer.wrapped = true
		return
	}
	room := len(writer.buf) - writer.writePos
	if room >= len(in) {
		copy(writer.buf[writer.writePos:], in)
		writer.writePos += len(in)
	} else {
		copy(writer.buf[writer.writePos:], in[:room])
		copy(writer.buf, in[room:])
		writer.writePos = len(in) - room
		writer.wrapped = true
	}
	if writer.writePos == len(writer.buf) {
		writer.writePos = 0
		writer.wrapped = true
	}
}

// Retrieve returns a copy of the latest bytes written, oldest to newest, optionally replacing non-ASCII or
// non-printable bytes with '?' so the result is always safe to drop into a log line.
func (writer *ByteLogWriter) Retrieve(asciiOnly bool) []byte {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()

	var ordered []byte
	if writer.wrapped {
		ordered = make([]byte, len(writer.buf))
		n := copy(ordered, writer.buf[writer.writePos:])
		copy(ordered[n:], writer.buf[:writer.writePos])
	} else {
		ordered = make([]byte, writer.writePos)
		copy(ordered, writer.buf[:writer.writePos])
	}

	if !asciiOnly {
		return ordered
	}
	var out bytes.Buffer
	for _, b := range ordered {
		if b < 128 && unicode.IsPrint(rune(b)) {
			out.WriteByte(b)
		} else {
			out.WriteRune('?')
		}
	}
	return out.Bytes()
}

// Write forwards p to the destination writer and absorbs a copy into the internal buffer.
func (writer *ByteLogWriter) Write(p []byte) (int, error) {
	writer.mutex.Lock()
	n, err := writer.destination.Write(p)
	writer.absorb(p)
	writer.mutex.Unlock()
	return n, err
}

// Close does nothing and always returns nil: the writer owns no resource of its own, only a reference to
// destination, which it does not close on the caller's behalf.
func (writer *ByteLogWriter) Close() error {
	return nil
}
