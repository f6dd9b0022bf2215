package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// Framing constants.
const (
	// DefaultMaxFrameSize is the default maximum frame size (256 KB).
	DefaultMaxFrameSize = 262144

	// frameTerminator ends every frame on the wire.
	frameTerminator = '\n'
)

// Framing errors.
var (
	// ErrFrameTooLarge indicates a frame exceeding the maximum size.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrFrameEmpty indicates an attempt to write an empty frame.
	ErrFrameEmpty = errors.New("frame is empty")

	// ErrInvalidFrame indicates a frame payload containing the line
	// terminator.
	ErrInvalidFrame = errors.New("frame contains line terminator")

	// ErrConnClosed indicates use of a closed connection.
	ErrConnClosed = errors.New("connection closed")
)

// LineConn adapts a net.Conn to newline-delimited framing.
// WriteFrame is safe for concurrent use; ReadFrame expects one reader.
type LineConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	maxFrameSize int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// NewLineConn wraps a net.Conn with the default frame-size cap.
func NewLineConn(conn net.Conn) *LineConn {
	return NewLineConnWithMaxSize(conn, DefaultMaxFrameSize)
}

// NewLineConnWithMaxSize wraps a net.Conn with a custom frame-size cap.
func NewLineConnWithMaxSize(conn net.Conn, maxSize int) *LineConn {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &LineConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		maxFrameSize: maxSize,
		closed:       make(chan struct{}),
	}
}

// ReadFrame reads the next newline-terminated frame and returns it
// without the terminator. A trailing carriage return is stripped.
func (c *LineConn) ReadFrame() ([]byte, error) {
	var line []byte
	for {
		chunk, err := c.reader.ReadSlice(frameTerminator)
		line = append(line, chunk...)

		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			if len(line) > c.maxFrameSize {
				return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(line), c.maxFrameSize)
			}
			continue
		}
		if err == io.EOF && len(line) > 0 {
			// Stream ended mid-frame.
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	line = line[:len(line)-1]
	line = bytes.TrimSuffix(line, []byte{'\r'})

	if len(line) > c.maxFrameSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(line), c.maxFrameSize)
	}

	return line, nil
}

// WriteFrame writes one frame followed by the line terminator.
// Safe for concurrent use.
func (c *LineConn) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrFrameEmpty
	}
	if len(data) > c.maxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(data), c.maxFrameSize)
	}
	if bytes.IndexByte(data, frameTerminator) >= 0 {
		return ErrInvalidFrame
	}

	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// Single write so a frame and its terminator never interleave with
	// another goroutine's frame.
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, frameTerminator)

	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("frame write failed: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
// It is safe to call Close multiple times.
func (c *LineConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address.
func (c *LineConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Compile-time interface satisfaction check.
var _ Conn = (*LineConn)(nil)
