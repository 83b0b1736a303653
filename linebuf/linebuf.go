// Package linebuf is a reusable line buffer for reading large streams,
// primarily standard input, one line at a time without copying.
//
// The arena looks like this:
//
//	|guard|__<USER DATA>__|.end|__<FREE>__|len(arena)|
//	      ^start
//
// arena[start-1] always holds the terminator so that scans starting one byte
// before the first line behave like scans after any other line.
package linebuf

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/vasyahuyasa/ipscan/log"
)

const (
	DefaultBaseSize    = 32768
	DefaultMaxLineSize = 16 << 20
	DefaultTerminator  = '\n'

	maxConsecutiveEmptyReads = 100
)

var (
	ErrLineTooLong = errors.New("linebuf: line longer than buffer")
	ErrNotBound    = errors.New("linebuf: no reader bound")
	ErrFreed       = errors.New("linebuf: buffer freed")
	ErrInvalidKeep = errors.New("linebuf: keep exceeds buffered data")
)

// ReadError wraps a failure of the underlying reader. End of stream is not a
// ReadError, it is reported as io.EOF.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("linebuf: read failed: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

var (
	pageSize     int
	pageSizeOnce sync.Once
)

// PageSize returns the memory page size, looked up once per process.
func PageSize() int {
	pageSizeOnce.Do(func() {
		pageSize = os.Getpagesize()
		if pageSize <= 0 {
			log.Fatalf("linebuf: cannot use page size %d", pageSize)
		}
	})

	return pageSize
}

func alignUp(n, alignment int) int {
	if r := n % alignment; r != 0 {
		return n + alignment - r
	}

	return n
}

type Option func(*Buffer)

// WithBaseSize sets the initial window size before page alignment.
func WithBaseSize(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.baseSize = n
		}
	}
}

// WithMaxLineSize bounds how far the window may grow to hold a single line.
func WithMaxLineSize(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.maxSize = n
		}
	}
}

func WithTerminator(c byte) Option {
	return func(b *Buffer) {
		b.eol = c
	}
}

type Buffer struct {
	arena []byte

	// user-visible data is arena[start:end]
	start int
	end   int

	// current line is arena[lineStart:lineLimit], terminator excluded
	lineStart int
	lineLimit int

	baseSize int
	maxSize  int
	eol      byte
	eolBuf   [1]byte

	r   io.Reader
	eof bool
	err error
}

// New allocates a buffer that is not bound to any reader yet.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		baseSize: DefaultBaseSize,
		maxSize:  DefaultMaxLineSize,
		eol:      DefaultTerminator,
	}

	for _, opt := range opts {
		opt(b)
	}

	page := PageSize()

	b.arena = make([]byte, alignUp(b.baseSize, page)+page+1)
	b.start = 1
	b.end = b.start
	b.eolBuf[0] = b.eol

	if b.maxSize < b.Cap() {
		b.maxSize = b.Cap()
	}

	return b
}

// Cap is the current window capacity in bytes.
func (b *Buffer) Cap() int {
	return len(b.arena) - b.start
}

// Init binds r and performs the first read. A previously bound reader is
// closed. If r implements io.Closer the buffer takes ownership of it.
func (b *Buffer) Init(r io.Reader) error {
	if b.arena == nil {
		return ErrFreed
	}

	if err := b.Close(); err != nil {
		log.Warnf("cannot close previous input: %v", err)
	}

	b.r = r
	b.eof = false
	b.err = nil

	b.end = b.start
	b.arena[b.start-1] = b.eol
	b.lineStart = b.start - 1
	b.lineLimit = b.start - 1

	if _, err := b.Fill(0); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

// Open opens path and binds it.
func (b *Buffer) Open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", path, err)
	}

	return b.Init(f)
}

// Fill keeps the last keep bytes of the window, moves them to the front and
// reads more data behind them. The returned adjust must be added to every
// offset into the old layout. io.EOF reports the end of the stream.
func (b *Buffer) Fill(keep int) (adjust int, err error) {
	if b.arena == nil {
		return 0, ErrFreed
	}

	if b.r == nil {
		return 0, ErrNotBound
	}

	if keep < 0 || keep > b.end-b.start {
		return 0, ErrInvalidKeep
	}

	if keep == b.Cap() {
		if err := b.grow(); err != nil {
			return 0, err
		}
	}

	adjust = b.compact(keep)

	if b.err != nil {
		return adjust, b.err
	}

	if b.eof {
		return adjust, io.EOF
	}

	n, err := b.read(b.arena[b.end:])
	b.end += n

	if err != nil {
		if errors.Is(err, io.EOF) {
			b.eof = true
		} else {
			b.err = &ReadError{Err: err}
		}

		// report the failure with the next fill, data comes first
		if n > 0 {
			return adjust, nil
		}

		if b.err != nil {
			return adjust, b.err
		}

		return adjust, io.EOF
	}

	return adjust, nil
}

// compact moves the last keep bytes of the window to start and returns how
// far they moved.
func (b *Buffer) compact(keep int) int {
	keepStart := b.end - keep
	adjust := b.start - keepStart

	if keep > 0 && adjust != 0 {
		copy(b.arena[b.start:], b.arena[keepStart:b.end])
	}

	b.end = b.start + keep

	return adjust
}

// grow doubles the window, bounded by the maximum line size. Offsets stay
// valid.
func (b *Buffer) grow() error {
	capacity := b.Cap()

	newCap := 2 * capacity
	if newCap > b.maxSize {
		newCap = alignUp(b.maxSize, PageSize())
	}

	if newCap <= capacity {
		return ErrLineTooLong
	}

	arena := make([]byte, b.start+newCap)
	copy(arena, b.arena[:b.end])
	b.arena = arena

	log.Debugf("linebuf: window grown to %d bytes", newCap)

	return nil
}

func (b *Buffer) read(p []byte) (int, error) {
	empty := 0

	for {
		n, err := b.r.Read(p)

		switch {
		case n == 0 && errors.Is(err, syscall.EINTR):
			continue
		case n > 0 || err != nil:
			return n, err
		}

		empty++
		if empty >= maxConsecutiveEmptyReads {
			return 0, io.ErrNoProgress
		}
	}
}

// scan advances limit to the next terminator, refilling whenever it runs off
// the window. start and limit are returned adjusted to the current layout.
func (b *Buffer) scan(start, limit int) (int, int, error) {
	for {
		if limit >= b.end {
			adjust, err := b.Fill(limit - start)
			start += adjust
			limit += adjust

			if err != nil {
				return start, limit, err
			}

			continue
		}

		if b.arena[limit] == b.eol {
			return start, limit, nil
		}

		limit++
	}
}

// LoadLine makes the next line current. A last line without a terminator is
// returned as a line, the call after it reports io.EOF.
func (b *Buffer) LoadLine() error {
	start := b.lineLimit + 1

	start, limit, err := b.scan(start, start)
	if err != nil {
		if errors.Is(err, io.EOF) && limit > start {
			b.lineStart, b.lineLimit = start, limit
			return nil
		}

		b.lineStart, b.lineLimit = b.end, b.end

		return err
	}

	b.lineStart, b.lineLimit = start, limit

	return nil
}

// SetLineLimit finds the end of the current line again, scanning from one
// byte past its start without moving to a new line.
func (b *Buffer) SetLineLimit() error {
	if b.lineStart < b.end && b.arena[b.lineStart] == b.eol {
		b.lineLimit = b.lineStart
		return nil
	}

	limit := b.lineStart + 1
	if b.lineStart >= b.end {
		limit = b.lineStart
	}

	start, limit, err := b.scan(b.lineStart, limit)

	b.lineStart = start
	b.lineLimit = limit

	if errors.Is(err, io.EOF) {
		return nil
	}

	return err
}

// Line returns the current line. The slice aliases the buffer and is only
// valid until the next call that reads.
func (b *Buffer) Line() []byte {
	return b.arena[b.lineStart:b.lineLimit]
}

// WriteLine writes the current line followed by the terminator.
func (b *Buffer) WriteLine(w io.Writer) error {
	if _, err := w.Write(b.Line()); err != nil {
		return err
	}

	_, err := w.Write(b.eolBuf[:])

	return err
}

// Close releases the bound reader, closing it when it is an io.Closer.
func (b *Buffer) Close() error {
	r := b.r
	b.r = nil

	if c, ok := r.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

// Free closes the bound reader and releases the arena.
func (b *Buffer) Free() error {
	err := b.Close()

	b.arena = nil
	b.start, b.end = 0, 0
	b.lineStart, b.lineLimit = 0, 0

	return err
}
