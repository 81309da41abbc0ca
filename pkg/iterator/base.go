package iterator

import (
	"fmt"
	"querycore/pkg/tuple"
)

// ReadNextFunc reads the next tuple from an iterator's underlying source.
// It returns nil with no error when the source is exhausted.
type ReadNextFunc func() (*tuple.Tuple, error)

// BaseIterator implements the caching logic and state management shared by
// all operators: one-tuple lookahead for HasNext and open/close state.
// Cooperative cancellation is the plan layer's concern; it wraps every
// operator and checks the query context at each row boundary.
type BaseIterator struct {
	nextTuple    *tuple.Tuple // Cached next tuple for lookahead
	opened       bool         // Whether the iterator has been opened
	readNextFunc ReadNextFunc // Reads the next tuple from the source
}

// NewBaseIterator creates a new base iterator with the given readNext
// function. The iterator starts closed.
func NewBaseIterator(readNextFunc ReadNextFunc) *BaseIterator {
	return &BaseIterator{readNextFunc: readNextFunc}
}

// HasNext checks if there is a next tuple available without consuming it.
func (it *BaseIterator) HasNext() (bool, error) {
	if !it.opened {
		return false, fmt.Errorf("iterator not opened")
	}

	if it.nextTuple == nil {
		var err error
		it.nextTuple, err = it.readNextFunc()
		if err != nil {
			return false, err
		}
	}
	return it.nextTuple != nil, nil
}

// Next returns the next tuple and advances the iterator position.
func (it *BaseIterator) Next() (*tuple.Tuple, error) {
	if !it.opened {
		return nil, fmt.Errorf("iterator not opened")
	}

	if it.nextTuple == nil {
		var err error
		it.nextTuple, err = it.readNextFunc()
		if err != nil {
			return nil, err
		}
		if it.nextTuple == nil {
			return nil, fmt.Errorf("no more tuples")
		}
	}

	result := it.nextTuple
	it.nextTuple = nil
	return result, nil
}

// Close releases the cached tuple and marks the iterator closed.
func (it *BaseIterator) Close() error {
	it.nextTuple = nil
	it.opened = false
	return nil
}

// MarkOpened marks the iterator as opened and ready for use.
func (it *BaseIterator) MarkOpened() {
	it.opened = true
}

// IsOpened reports whether the iterator is currently open.
func (it *BaseIterator) IsOpened() bool {
	return it.opened
}

// ClearCache drops the cached lookahead tuple, used by Rewind implementations.
func (it *BaseIterator) ClearCache() {
	it.nextTuple = nil
}
