package streams

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"iptv-relay/pkg/httpclient"
	"iptv-relay/pkg/interfaces"
	"iptv-relay/pkg/logging"
	"iptv-relay/pkg/types"
)

const relayChunkSize = 32 << 10

// ErrStreamInterrupted is returned once the response is committed: the
// upstream or the client failed after the headers were written. The
// response cannot be turned into an error any more and must be aborted.
var ErrStreamInterrupted = errors.New("stream interrupted")

// RelayHandler passes segment and key bytes through unmodified.
type RelayHandler struct {
	client  interfaces.HTTPClient
	log     *logging.Logger
	budgets map[types.ResourceKind]httpclient.Budget
}

// NewRelayHandler creates a relay with one fetch budget per resource kind.
func NewRelayHandler(client interfaces.HTTPClient, log *logging.Logger, segment, key httpclient.Budget) *RelayHandler {
	return &RelayHandler{
		client: client,
		log:    log.WithComponent("relay-handler"),
		budgets: map[types.ResourceKind]httpclient.Budget{
			types.ResourceKindSegment: segment,
			types.ResourceKindKey:     key,
		},
	}
}

// Relay writes the upstream resource to w and returns the number of bytes
// written. Errors returned with zero bytes written leave w untouched, so
// the caller can still report them. Segments are streamed; keys are small
// and buffered.
func (h *RelayHandler) Relay(ctx context.Context, w http.ResponseWriter, req *types.RelayRequest) (int64, error) {
	budget, ok := h.budgets[req.Kind]
	if !ok {
		return 0, fmt.Errorf("cannot relay resource kind %q", req.Kind)
	}

	if req.Kind == types.ResourceKindKey {
		return h.relayKey(ctx, w, req, budget)
	}
	return h.relaySegment(ctx, w, req, budget)
}

func (h *RelayHandler) relayKey(ctx context.Context, w http.ResponseWriter, req *types.RelayRequest, budget httpclient.Budget) (int64, error) {
	res, err := httpclient.Fetch(ctx, h.client, req.URL, req.Headers, budget)
	if err != nil {
		return 0, fmt.Errorf("fetch key: %w", err)
	}

	w.Header().Set("Content-Type", req.Kind.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
	w.WriteHeader(http.StatusOK)
	n, err := w.Write(res.Body)
	if err != nil {
		return int64(n), fmt.Errorf("%w: write to client: %v", ErrStreamInterrupted, err)
	}
	return int64(n), nil
}

func (h *RelayHandler) relaySegment(ctx context.Context, w http.ResponseWriter, req *types.RelayRequest, budget httpclient.Budget) (int64, error) {
	resp, err := httpclient.Stream(ctx, h.client, req.URL, req.Headers, budget)
	if err != nil {
		return 0, fmt.Errorf("fetch segment: %w", err)
	}
	defer resp.Body.Close()

	rc := http.NewResponseController(w)
	buf := make([]byte, relayChunkSize)
	var written int64

	commit := func() {
		w.Header().Set("Content-Type", req.Kind.ContentType())
		if resp.ContentLength >= 0 && !resp.Uncompressed {
			w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
		}
		w.WriteHeader(http.StatusOK)
	}

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if written == 0 {
				commit()
			}
			wn, writeErr := w.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, fmt.Errorf("%w: write to client: %v", ErrStreamInterrupted, writeErr)
			}
			_ = rc.Flush()
		}

		switch {
		case readErr == io.EOF:
			if written == 0 {
				commit()
			}
			return written, nil
		case readErr != nil && written == 0:
			return 0, &httpclient.UpstreamError{URL: req.URL, Err: readErr}
		case readErr != nil:
			h.log.WithURL(req.URL).Warn("segment upstream failed mid-stream", "written", written, "error", readErr)
			return written, fmt.Errorf("%w after %d bytes: %v", ErrStreamInterrupted, written, readErr)
		}
	}
}
