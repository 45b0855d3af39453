package jit

import (
	"fmt"
	"io"
	"sort"

	"blockjit/pkg/bytecode"

	"github.com/fxamacker/cbor/v2"
)

// ExitStats counts exits to the interpreter per bytecode instruction.
// Compiled code increments the counters directly without synchronization,
// so concurrent exits may lose counts; the numbers are approximate.
type ExitStats struct {
	counts [bytecode.NumOpcodes]uint64
}

// ExitCount is one row of a stats report.
type ExitCount struct {
	Insn  string `cbor:"insn"`
	Count uint64 `cbor:"count"`
}

// Counters exposes the counter table compiled code increments, indexed by opcode
func (s *ExitStats) Counters() []uint64 {
	return s.counts[:]
}

// Count returns the exits recorded for op
func (s *ExitStats) Count(op bytecode.Opcode) uint64 {
	return s.counts[op]
}

// Total returns the sum of all counters
func (s *ExitStats) Total() uint64 {
	var total uint64
	for _, c := range s.counts {
		total += c
	}
	return total
}

// Report returns the non-zero counters, most frequent first
func (s *ExitStats) Report() []ExitCount {
	out := make([]ExitCount, 0, len(s.counts))
	for op, c := range s.counts {
		if c > 0 {
			out = append(out, ExitCount{Insn: bytecode.Opcode(op).String(), Count: c})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Insn < out[j].Insn
	})
	return out
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("jit: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// WriteTo encodes the report as CBOR
func (s *ExitStats) WriteTo(w io.Writer) (int64, error) {
	data, err := cborEncMode.Marshal(s.Report())
	if err != nil {
		return 0, fmt.Errorf("jit: marshal exit stats: %w", err)
	}
	n, err := w.Write(data)
	return int64(n), err
}

// ReadExitReport decodes a report written by WriteTo
func ReadExitReport(r io.Reader) ([]ExitCount, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var report []ExitCount
	if err := cbor.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("jit: unmarshal exit stats: %w", err)
	}
	return report, nil
}
