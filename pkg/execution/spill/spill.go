// Package spill provides the run files that spilling operators (external
// sort, grace hash join, hash aggregation) write when their input exceeds
// the memory budget. A run file holds serialized tuples of one schema; the
// schema itself is not stored and must be supplied on read.
package spill

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"querycore/pkg/errs"
	"querycore/pkg/iterator"
	"querycore/pkg/tuple"
)

// resourceErr builds a resource-category error with the underlying cause
// attached for errors.Is inspection.
func resourceErr(cause error, code, format string, args ...any) *errs.Error {
	e := errs.Resource(code, format+": %v", append(args, cause)...)
	e.Cause = cause
	return e
}

// Writer streams tuples into a run file. Finish seals the file into a
// readable File; Discard removes a partial file after an error.
type Writer struct {
	f    *os.File
	buf  *bufio.Writer
	td   *tuple.TupleDescription
	rows int64
	path string
}

// NewWriter creates a run file in dir (the system temp directory when dir is
// empty). Failure to allocate the file is a resource error: the query
// exceeded its budget and could not obtain disk to compensate.
func NewWriter(dir string, td *tuple.TupleDescription) (*Writer, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "run-"+uuid.NewString()+".spill")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, resourceErr(err, "SPILL_CREATE", "failed to create spill file in %s", dir)
	}

	return &Writer{
		f:    f,
		buf:  bufio.NewWriter(f),
		td:   td,
		path: path,
	}, nil
}

// Write appends one tuple to the run.
func (w *Writer) Write(t *tuple.Tuple) error {
	if !t.TupleDesc.Equals(w.td) {
		return fmt.Errorf("tuple schema does not match run schema")
	}
	if err := t.Serialize(w.buf); err != nil {
		return resourceErr(err, "SPILL_WRITE", "failed to write spill file %s", w.path)
	}
	w.rows++
	return nil
}

// Rows returns the number of tuples written so far.
func (w *Writer) Rows() int64 {
	return w.rows
}

// Finish flushes and closes the run, returning the readable file.
func (w *Writer) Finish() (*File, error) {
	if err := w.buf.Flush(); err != nil {
		w.Discard()
		return nil, resourceErr(err, "SPILL_WRITE", "failed to flush spill file %s", w.path)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.path)
		return nil, resourceErr(err, "SPILL_WRITE", "failed to close spill file %s", w.path)
	}
	return &File{path: w.path, td: w.td, rows: w.rows}, nil
}

// Discard closes and removes a partially written run.
func (w *Writer) Discard() {
	w.f.Close()
	os.Remove(w.path)
}

// File is a sealed run ready for reading. It can be iterated any number of
// times until Remove is called.
type File struct {
	path string
	td   *tuple.TupleDescription
	rows int64
}

// Rows returns the number of tuples in the run.
func (f *File) Rows() int64 {
	return f.rows
}

// TupleDesc returns the schema of the tuples in the run.
func (f *File) TupleDesc() *tuple.TupleDescription {
	return f.td
}

// Iterator returns a fresh iterator over the run's tuples in write order.
func (f *File) Iterator() iterator.DbIterator {
	return newRunReader(f)
}

// Remove deletes the run file from disk.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove spill file %s: %w", f.path, err)
	}
	return nil
}

// runReader replays a run file through the standard operator interface.
type runReader struct {
	base *iterator.BaseIterator
	file *File
	f    *os.File
	buf  *bufio.Reader
}

func newRunReader(f *File) *runReader {
	r := &runReader{file: f}
	r.base = iterator.NewBaseIterator(r.readNext)
	return r
}

func (r *runReader) Open() error {
	f, err := os.Open(r.file.path)
	if err != nil {
		return resourceErr(err, "SPILL_READ", "failed to open spill file %s", r.file.path)
	}
	r.f = f
	r.buf = bufio.NewReader(f)
	r.base.MarkOpened()
	return nil
}

func (r *runReader) readNext() (*tuple.Tuple, error) {
	t, err := tuple.ReadTuple(r.buf, r.file.td)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read spill file %s: %w", r.file.path, err)
	}
	return t, nil
}

func (r *runReader) HasNext() (bool, error) {
	return r.base.HasNext()
}

func (r *runReader) Next() (*tuple.Tuple, error) {
	return r.base.Next()
}

func (r *runReader) Rewind() error {
	if r.f == nil {
		return fmt.Errorf("iterator not opened")
	}
	if _, err := r.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind spill file %s: %w", r.file.path, err)
	}
	r.buf.Reset(r.f)
	r.base.ClearCache()
	return nil
}

func (r *runReader) Close() error {
	if r.f != nil {
		r.f.Close()
		r.f = nil
	}
	return r.base.Close()
}

func (r *runReader) GetTupleDesc() *tuple.TupleDescription {
	return r.file.td
}
