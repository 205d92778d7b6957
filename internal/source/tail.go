// Package source reads the append-only record file written by the signal
// producer.
package source

import (
	"bufio"
	"errors"
	"io"
	"os"

	"signal-insights/internal/data"
)

const maxLineSize = 1 << 20

// Result is the outcome of one scan of the record file.
type Result struct {
	Records []data.Record
	Skipped int   // non-blank lines that failed to parse
	Err     error // open/read failure; Records is empty when set
}

// ReadLast returns the last n parsable records of the file at path, oldest
// first. A missing or unreadable file yields no records.
func ReadLast(path string, n int) []data.Record {
	return ScanLast(path, n).Records
}

// ScanLast is ReadLast with the bookkeeping the refresh loop reports on.
func ScanLast(path string, n int) Result {
	if n <= 0 {
		return Result{}
	}
	window := newRing(n)
	res := scan(path, func(rec data.Record) bool {
		window.push(rec)
		return true
	})
	if res.Err != nil {
		return res
	}
	res.Records = window.slice()
	return res
}

// ReadFirst returns the first n parsable records of the file at path.
func ReadFirst(path string, n int) []data.Record {
	if n <= 0 {
		return nil
	}
	records := make([]data.Record, 0, n)
	res := scan(path, func(rec data.Record) bool {
		records = append(records, rec)
		return len(records) < n
	})
	if res.Err != nil {
		return nil
	}
	return records
}

// scan feeds every parsable record to keep until it returns false. Parse
// failures are counted and otherwise ignored.
func scan(path string, keep func(data.Record) bool) Result {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}
		}
		return Result{Err: err}
	}
	defer f.Close()

	var (
		res  Result
		line []byte
	)
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		var tooLong bool
		line, tooLong, err = readLine(r, line[:0])
		switch {
		case tooLong:
			res.Skipped++
		case !isBlank(line):
			rec, perr := data.ParseRecord(line)
			if perr != nil {
				var parseErr *data.ParseError
				if !errors.As(perr, &parseErr) {
					return Result{Err: perr}
				}
				res.Skipped++
			} else if !keep(rec) {
				return res
			}
		}
		if errors.Is(err, io.EOF) {
			return res
		}
		if err != nil {
			return Result{Err: err}
		}
	}
}

// readLine appends the next line of r to buf. A line longer than
// maxLineSize is consumed up to its newline and reported as tooLong with an
// empty buf.
func readLine(r *bufio.Reader, buf []byte) ([]byte, bool, error) {
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxLineSize {
				tooLong, buf = true, buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return buf, tooLong, err
		}
	}
}

func isBlank(line []byte) bool {
	for _, c := range line {
		switch c {
		case ' ', '\t', '\r', '\n', '\v', '\f':
		default:
			return false
		}
	}
	return true
}

// ring keeps the most recent cap records, evicting the oldest first.
type ring struct {
	buf   []data.Record
	start int
	full  bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]data.Record, 0, capacity)}
}

func (r *ring) push(rec data.Record) {
	if !r.full {
		r.buf = append(r.buf, rec)
		r.full = len(r.buf) == cap(r.buf)
		return
	}
	r.buf[r.start] = rec
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) slice() []data.Record {
	out := make([]data.Record, 0, len(r.buf))
	out = append(out, r.buf[r.start:]...)
	return append(out, r.buf[:r.start]...)
}
