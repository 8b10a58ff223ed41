// Package strategy picks how a file is read and parallelised, based on its
// size, its content and the memory available on the host.
package strategy

import (
	"fmt"
)

// Strategy is the extraction and parallelism approach for one file.
type Strategy int

const (
	Standard Strategy = iota
	CSVStreaming
	MemoryMapped
	ChunkedStreaming
	ParallelChunks
)

var names = map[Strategy]string{
	Standard:         "standard",
	CSVStreaming:     "csv_streaming",
	MemoryMapped:     "memory_mapped",
	ChunkedStreaming: "chunked_streaming",
	ParallelChunks:   "parallel_chunks",
}

func (s Strategy) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler so checkpoints store names.
func (s Strategy) MarshalText() ([]byte, error) {
	if _, ok := names[s]; !ok {
		return nil, fmt.Errorf("unknown strategy %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(b []byte) error {
	p, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = p
	return nil
}

// Parse returns the Strategy with the given name.
func Parse(name string) (Strategy, error) {
	for s, n := range names {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown strategy %q", name)
}

// InFlightFactor is the multiple of the worker count allowed in flight at
// once. Strategies built for large files keep deeper queues.
func (s Strategy) InFlightFactor() int {
	switch s {
	case ParallelChunks, MemoryMapped:
		return 3
	case Standard, CSVStreaming, ChunkedStreaming:
		return 2
	default:
		panic(fmt.Sprintf("unhandled strategy %d", int(s)))
	}
}
