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

// callgas analyzes an EVM struct-log trace and attributes gas consumption to
// one call window, selected by the program counter and depth of the step that
// enters it.
//
//	callgas --start-pc 15413 --depth 3 trace.json
//	callgas --start-pc 15413 --depth 3 --rpc-url http://localhost:8545 --tx 0xdeadbeef...
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ledgerwatch/log/v3"
	"github.com/urfave/cli/v2"

	"github.com/erigontech/callgas"
	"github.com/erigontech/callgas/tracesource"
)

var (
	startPcFlag = cli.Uint64Flag{
		Name:     "start-pc",
		Usage:    "Program counter of the step that opens the monitored window",
		Required: true,
	}
	depthFlag = cli.IntFlag{
		Name:  "depth",
		Usage: "Call depth of the monitored window",
		Value: 0,
	}
	rpcURLFlag = cli.StringFlag{
		Name:  "rpc-url",
		Usage: "JSON-RPC endpoint to fetch the trace from (instead of a trace file)",
	}
	txHashFlag = cli.StringFlag{
		Name:  "tx",
		Usage: "Transaction hash to trace via --rpc-url",
	}
	jsonFlag = cli.BoolFlag{
		Name:  "json",
		Usage: "Emit the result as JSON instead of a report",
	}
	verbosityFlag = cli.StringFlag{
		Name:  "verbosity",
		Usage: "Log level (crit, error, warn, info, debug, trace)",
		Value: "info",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "callgas"
	app.Usage = "Attribute gas in an EVM struct-log trace to one call window"
	app.ArgsUsage = "<trace file>"
	app.Flags = []cli.Flag{
		&startPcFlag,
		&depthFlag,
		&rpcURLFlag,
		&txHashFlag,
		&jsonFlag,
		&verbosityFlag,
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	lvl, err := log.LvlFromString(cliCtx.String(verbosityFlag.Name))
	if err != nil {
		return err
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StderrHandler))
	logger := log.Root()

	steps, err := loadSteps(cliCtx, logger)
	if err != nil {
		return err
	}

	cfg := callgas.Config{
		StartPc: cliCtx.Uint64(startPcFlag.Name),
		Depth:   cliCtx.Int(depthFlag.Name),
	}
	res, err := callgas.Analyze(steps, cfg, logger)
	switch {
	case errors.Is(err, callgas.ErrWindowUnterminated):
		logger.Warn("window never closed, total gas unknown", "startPc", cfg.StartPc, "depth", cfg.Depth)
	case err != nil:
		return err
	}
	if !res.WindowOpened {
		logger.Warn("window never opened", "startPc", cfg.StartPc, "depth", cfg.Depth)
	}

	if cliCtx.Bool(jsonFlag.Name) {
		return callgas.WriteJSON(os.Stdout, &res)
	}
	return callgas.WriteReport(os.Stdout, &res)
}

func loadSteps(cliCtx *cli.Context, logger log.Logger) ([]callgas.Step, error) {
	rpcURL := cliCtx.String(rpcURLFlag.Name)
	txHash := cliCtx.String(txHashFlag.Name)
	file := cliCtx.Args().First()

	switch {
	case rpcURL != "" && txHash != "":
		if file != "" {
			return nil, errors.New("pass either a trace file or --rpc-url with --tx, not both")
		}
		return tracesource.Fetch(cliCtx.Context, rpcURL, txHash, logger)
	case rpcURL != "" || txHash != "":
		return nil, errors.New("--rpc-url and --tx must be used together")
	case file == "":
		return nil, errors.New("no trace file given (or use --rpc-url with --tx)")
	}
	return tracesource.Load(file, logger)
}
