package iterator

import "querycore/pkg/tuple"

// DbIterator defines the contract for all operators in the execution engine.
// Operators form a synchronous pull pipeline: a parent calls Next() on its
// children when it needs a row.
type DbIterator interface {
	// Open initializes the iterator and prepares it for tuple retrieval.
	// This method must be called before any other iterator operations.
	Open() error

	// HasNext checks if there are more tuples available without consuming
	// them. It can be called multiple times without advancing the position.
	HasNext() (bool, error)

	// Next retrieves and returns the next tuple, advancing the position.
	// Use HasNext() to check availability before calling Next().
	Next() (*tuple.Tuple, error)

	// Rewind resets the iterator position to the beginning of the data
	// sequence. The iterator must be opened before calling this method.
	Rewind() error

	// Close releases all resources associated with the iterator. Calling
	// Close() on an already closed iterator is safe and idempotent.
	Close() error

	// GetTupleDesc returns the schema of tuples produced by this iterator.
	// It may be called regardless of iterator state.
	GetTupleDesc() *tuple.TupleDescription
}

// Iterate encapsulates the common iteration pattern. It handles HasNext/Next
// logic and skips nil tuples automatically. The processFunc controls flow:
// return (false, nil) to stop early, (true, nil) to continue, (_, error) to
// stop with error.
func Iterate(iter DbIterator, processFunc func(*tuple.Tuple) (continueLooping bool, err error)) error {
	for {
		hasNext, err := iter.HasNext()
		if err != nil {
			return err
		}
		if !hasNext {
			break
		}

		tup, err := iter.Next()
		if err != nil {
			return err
		}
		if tup == nil {
			continue
		}

		shouldContinue, err := processFunc(tup)
		if err != nil {
			return err
		}
		if !shouldContinue {
			break
		}
	}

	return nil
}

// ForEach applies a processing function to each tuple in the iterator.
// The iteration stops early if processFunc returns an error.
func ForEach(iter DbIterator, processFunc func(*tuple.Tuple) error) error {
	return Iterate(iter, func(tup *tuple.Tuple) (bool, error) {
		err := processFunc(tup)
		return true, err
	})
}

// Collect returns all tuples from the iterator as a slice.
// Note: this consumes the entire iterator and loads everything into memory.
func Collect(iter DbIterator) ([]*tuple.Tuple, error) {
	var results []*tuple.Tuple

	err := Iterate(iter, func(tup *tuple.Tuple) (bool, error) {
		results = append(results, tup)
		return true, nil
	})

	return results, err
}

// Count returns the total number of tuples in the iterator, consuming it.
func Count(iter DbIterator) (int, error) {
	n := 0
	err := Iterate(iter, func(*tuple.Tuple) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}
