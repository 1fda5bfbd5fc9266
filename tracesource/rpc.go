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

package tracesource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/ledgerwatch/log/v3"

	"github.com/erigontech/callgas"
)

// Memory, stack and storage capture are disabled: the analyzer only needs
// pc/op/gas/gasCost/depth, and full capture can make traces of busy
// transactions enormous.
const traceRequestTemplate = `{"jsonrpc":"2.0","method":"debug_traceTransaction","params":["%s",{"disableMemory":true,"disableStack":true,"disableStorage":true,"disableReturnData":true}],"id":1}`

// Fetch retrieves the struct-log trace of txHash from the node at rpcURL and
// returns its step sequence. Transient HTTP failures are retried.
func Fetch(ctx context.Context, rpcURL, txHash string, logger log.Logger) ([]callgas.Step, error) {
	if logger == nil {
		logger = log.Root()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = 5 * time.Minute // tracing a heavy tx server-side is slow
	client.Logger = nil

	body := fmt.Sprintf(traceRequestTemplate, txHash)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, rpcURL, []byte(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("debug_traceTransaction request to %s: %w", rpcURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("debug_traceTransaction request to %s: status %s", rpcURL, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading debug_traceTransaction response: %w", err)
	}

	steps, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("tx %s: %w", txHash, err)
	}
	logger.Debug("fetched trace", "tx", txHash, "size", datasize.ByteSize(len(data)).HumanReadable(), "steps", len(steps), "took", time.Since(start))
	return steps, nil
}
