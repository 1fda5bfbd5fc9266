// Copyright 2025 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package callgas attributes gas consumption in an EVM struct-log trace to a
// single call window, identified by the program counter and depth of the step
// that enters it. One pass over the trace yields the gas spent by opcodes
// executed directly inside the window, the gas consumed by each sub-call
// opened one depth below it, and the call-overhead gas charged to the caller
// that no opcode inside the window accounts for.
package callgas

import (
	"errors"

	"github.com/ledgerwatch/log/v3"
)

// ErrWindowUnterminated is returned when the window opened but the trace
// ended before the end marker (start pc + 1 at the window depth) was
// observed. The partial result is still returned alongside it; its GasEnd is
// meaningless and total gas cannot be derived.
var ErrWindowUnterminated = errors.New("call window opened but never closed")

// callOps are the opcodes that enter a new execution context one depth below
// the current frame.
var callOps = map[string]struct{}{
	"CALL":         {},
	"CALLCODE":     {},
	"DELEGATECALL": {},
	"STATICCALL":   {},
	"CREATE":       {},
	"CREATE2":      {},
}

// IsCallOp reports whether the named opcode opens a new call frame.
func IsCallOp(op string) bool {
	_, ok := callOps[op]
	return ok
}

// Step is one entry of a struct-log trace: the machine state immediately
// before one opcode executes. Gas is the gas remaining at that point, not the
// gas spent. The analyzer only reads steps, never retains or mutates them.
type Step struct {
	Pc      uint64 `json:"pc"`
	Op      string `json:"op"`
	Gas     uint64 `json:"gas"`
	GasCost uint64 `json:"gasCost"`
	Depth   int    `json:"depth"`
}

// FrameKey identifies a call frame by the program counter and depth of its
// call instruction. A key is unique among active frames: the same call site
// cannot open a second frame before the first one has returned.
type FrameKey struct {
	Pc    uint64 `json:"pc"`
	Depth int    `json:"depth"`
}

// Frame records one sub-call opened inside the monitored window, from the
// call instruction to its matching return step. Until the return is observed
// Resolved is false and GasUsed, ReturnPc and ReturnDepth are unset.
type Frame struct {
	Pc          uint64 `json:"pc"`
	Depth       int    `json:"depth"`
	Op          string `json:"op"`
	GasAtCall   uint64 `json:"gasAtCall"`
	Resolved    bool   `json:"resolved"`
	GasUsed     uint64 `json:"gasUsed"`
	ReturnPc    uint64 `json:"returnPc"`
	ReturnDepth int    `json:"returnDepth"`
}

// Key returns the frame's identity among active frames.
func (f *Frame) Key() FrameKey {
	return FrameKey{Pc: f.Pc, Depth: f.Depth}
}

// Config selects the window to analyze: the window opens at the first step
// with pc == StartPc at Depth, and closes at the next step with
// pc == StartPc+1 at Depth.
type Config struct {
	StartPc uint64
	Depth   int
}

// Result is the gas accounting for one analyzed window.
//
// GasSum is the execution gas: the gas cost of every non-call opcode executed
// at the window's child depth, plus the gas consumed by every sub-call that
// completed inside the window. GasStart and GasEnd are the remaining-gas
// values at the two marker steps; their difference is the total gas charged
// to the window, and the part of it missing from GasSum is call overhead
// (stipends, value transfer, memory expansion, cold-access surcharges).
type Result struct {
	GasSum       uint64   `json:"gas_sum"`
	GasStart     uint64   `json:"gas_start"`
	GasEnd       uint64   `json:"gas_end"`
	WindowOpened bool     `json:"windowOpened"`
	WindowClosed bool     `json:"windowClosed"`
	Frames       []*Frame `json:"callStack"`
}

// TotalGas returns GasStart - GasEnd. It is only defined when the window
// closed; ok is false otherwise, including when the window never opened.
func (r *Result) TotalGas() (total uint64, ok bool) {
	if !r.WindowClosed {
		return 0, false
	}
	return r.GasStart - r.GasEnd, true
}

// NonExecGas returns the portion of the total gas not attributable to opcodes
// executed inside the window, i.e. TotalGas() - GasSum. Like TotalGas it is
// only defined when the window closed.
func (r *Result) NonExecGas() (gas uint64, ok bool) {
	total, ok := r.TotalGas()
	if !ok {
		return 0, false
	}
	return total - r.GasSum, true
}

// Frame returns the most recently opened frame with the given key. A call
// site re-executing in a loop produces one Frame per execution; all of them
// are retained in Frames, in open order.
func (r *Result) Frame(key FrameKey) (*Frame, bool) {
	for i := len(r.Frames) - 1; i >= 0; i-- {
		if r.Frames[i].Key() == key {
			return r.Frames[i], true
		}
	}
	return nil, false
}

type state int

const (
	stateIdle state = iota
	stateMonitoring
	stateClosed
)

// Analyzer is the single-pass state machine behind Analyze. Feed it steps in
// trace order via Observe; it ignores everything before the start marker,
// tracks child-depth execution and sub-call frames while monitoring, and
// stops at the end marker. Not safe for concurrent use; one Analyzer per
// analysis run.
type Analyzer struct {
	cfg    Config
	logger log.Logger

	state    state
	gasStart uint64
	gasEnd   uint64
	gasSum   uint64

	// active holds unreturned frames in open order; every frame in it is at
	// depth cfg.Depth+1. frames additionally keeps the resolved ones, so the
	// result reports both.
	active []*Frame
	frames []*Frame
}

// NewAnalyzer returns an Analyzer for one window. A nil logger falls back to
// the root logger.
func NewAnalyzer(cfg Config, logger log.Logger) *Analyzer {
	if logger == nil {
		logger = log.Root()
	}
	return &Analyzer{cfg: cfg, logger: logger}
}

// Observe feeds the next trace step to the state machine and reports whether
// the scan is finished. Once it returns true, further steps are ignored.
func (a *Analyzer) Observe(s Step) bool {
	switch a.state {
	case stateClosed:
		return true
	case stateIdle:
		if s.Pc == a.cfg.StartPc && s.Depth == a.cfg.Depth {
			a.state = stateMonitoring
			a.gasStart = s.Gas
			a.logger.Debug("window opened", "op", s.Op, "pc", s.Pc, "depth", s.Depth, "gas", s.Gas)
		}
		return false
	}

	if s.Pc == a.cfg.StartPc+1 && s.Depth == a.cfg.Depth {
		a.state = stateClosed
		a.gasEnd = s.Gas
		a.logger.Debug("window closed", "op", s.Op, "pc", s.Pc, "depth", s.Depth, "gas", s.Gas)
		return true
	}

	// Only the window's immediate child depth is tracked. Deeper steps are
	// folded into the enclosing frame's gas delta; steps at or above the
	// window depth belong to the caller.
	if s.Depth != a.cfg.Depth+1 {
		return false
	}

	if IsCallOp(s.Op) {
		f := &Frame{Pc: s.Pc, Depth: s.Depth, Op: s.Op, GasAtCall: s.Gas}
		a.active = append(a.active, f)
		a.frames = append(a.frames, f)
		a.logger.Debug("call opened", "op", s.Op, "pc", s.Pc, "depth", s.Depth, "gas", s.Gas)
		return false
	}

	a.gasSum += s.GasCost
	a.matchReturn(s)
	return false
}

// matchReturn resolves the active frame whose call site precedes s, if any.
// At most one active frame can match: two active frames with the same return
// pc would need the same call pc at the same depth, which the active-key
// uniqueness rules out. The match is located first and removed after, never
// while iterating.
func (a *Analyzer) matchReturn(s Step) {
	matched := -1
	for i, f := range a.active {
		if s.Pc == f.Pc+1 {
			matched = i
			break
		}
	}
	if matched < 0 {
		return
	}
	f := a.active[matched]
	f.GasUsed = f.GasAtCall - s.Gas
	f.ReturnPc = s.Pc
	f.ReturnDepth = s.Depth
	f.Resolved = true
	a.active = append(a.active[:matched], a.active[matched+1:]...)
	a.logger.Debug("call returned", "pc", f.Pc, "depth", f.Depth, "gasUsed", f.GasUsed, "gasLeft", s.Gas)
}

// Result finalizes the accounting and returns it. Gas consumed by resolved
// frames is folded into GasSum here rather than at return time, because a
// call's cost is unknown until its return step. Unresolved frames contribute
// nothing. Result may be called more than once; it always returns the same
// figures.
func (a *Analyzer) Result() Result {
	res := Result{
		GasSum:       a.gasSum,
		GasStart:     a.gasStart,
		GasEnd:       a.gasEnd,
		WindowOpened: a.state != stateIdle,
		WindowClosed: a.state == stateClosed,
		Frames:       a.frames,
	}
	for _, f := range a.frames {
		if f.Resolved {
			res.GasSum += f.GasUsed
		}
	}
	return res
}

// Analyze runs the full single-pass analysis over steps. The scan stops at
// the end marker; steps after it are not inspected. A trace without the start
// marker yields a zero result and no error. A window that opens but never
// closes yields the partial result and ErrWindowUnterminated.
func Analyze(steps []Step, cfg Config, logger log.Logger) (Result, error) {
	a := NewAnalyzer(cfg, logger)
	for _, s := range steps {
		if a.Observe(s) {
			break
		}
	}
	res := a.Result()
	if res.WindowOpened && !res.WindowClosed {
		return res, ErrWindowUnterminated
	}
	return res, nil
}
