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

// Package tracesource turns captured debug_traceTransaction output into the
// ordered step sequence the callgas analyzer consumes. Traces come either
// from a JSON file (a raw RPC response envelope or just its result object) or
// directly from a node over JSON-RPC.
package tracesource

import (
	"errors"
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	jsoniter "github.com/json-iterator/go"
	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/callgas"
)

// ErrNoStructLogs is returned when neither result.structLogs nor a top-level
// structLogs field is present in the trace document.
var ErrNoStructLogs = errors.New("structLogs not found in result.structLogs or structLogs")

// rawStructLog mirrors one geth-style struct-log entry. Fields are pointers
// so that an absent field is distinguishable from a zero value; the analyzer
// needs all five.
type rawStructLog struct {
	Pc      *uint64 `json:"pc"`
	Op      *string `json:"op"`
	Gas     *uint64 `json:"gas"`
	GasCost *uint64 `json:"gasCost"`
	Depth   *int    `json:"depth"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type txTraceResult struct {
	StructLogs []rawStructLog `json:"structLogs"`
}

// txTraceDocument is the superset of the accepted container shapes: a full
// JSON-RPC response envelope, or the bare result object.
type txTraceDocument struct {
	Result     *txTraceResult `json:"result"`
	Error      *rpcError      `json:"error"`
	StructLogs []rawStructLog `json:"structLogs"`
}

// Parse decodes a trace document and extracts its step sequence. The struct
// logs are taken from result.structLogs if present, from the top-level
// structLogs field otherwise; a document with neither fails with
// ErrNoStructLogs. A step record missing any required field fails with an
// error naming the field and the record index.
func Parse(data []byte) ([]callgas.Step, error) {
	var doc txTraceDocument
	if err := jsoniter.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding trace document: %w", err)
	}
	if doc.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", doc.Error.Code, doc.Error.Message)
	}

	var raw []rawStructLog
	switch {
	case doc.Result != nil && doc.Result.StructLogs != nil:
		raw = doc.Result.StructLogs
	case doc.StructLogs != nil:
		raw = doc.StructLogs
	default:
		return nil, ErrNoStructLogs
	}
	return convert(raw)
}

func convert(raw []rawStructLog) ([]callgas.Step, error) {
	steps := make([]callgas.Step, len(raw))
	for i, r := range raw {
		switch {
		case r.Pc == nil:
			return nil, missingField(i, "pc")
		case r.Op == nil:
			return nil, missingField(i, "op")
		case r.Gas == nil:
			return nil, missingField(i, "gas")
		case r.GasCost == nil:
			return nil, missingField(i, "gasCost")
		case r.Depth == nil:
			return nil, missingField(i, "depth")
		}
		steps[i] = callgas.Step{
			Pc:      *r.Pc,
			Op:      *r.Op,
			Gas:     *r.Gas,
			GasCost: *r.GasCost,
			Depth:   *r.Depth,
		}
	}
	return steps, nil
}

func missingField(i int, field string) error {
	return fmt.Errorf("structLog %d: missing %q field", i, field)
}

// Load reads and parses a trace file.
func Load(path string, logger log.Logger) ([]callgas.Step, error) {
	if logger == nil {
		logger = log.Root()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	steps, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Debug("loaded trace file", "path", path, "size", datasize.ByteSize(len(data)).HumanReadable(), "steps", len(steps))
	return steps, nil
}
