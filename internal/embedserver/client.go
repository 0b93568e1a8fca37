package embedserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/grovekb/grove/internal/apperr"
	"github.com/grovekb/grove/internal/embedding"
)

// Client call bounds. Liveness checks stay short so fallback decisions are
// fast; embed calls allow for queueing plus model time.
const (
	dialTimeout   = 2 * time.Second
	statusTimeout = 3 * time.Second
	embedTimeout  = queueWait + workWait
)

const maxResponseBytes = 16 << 20

// Client talks to the embedding daemon. Every call is timeout-bound; a
// failed call never blocks the caller indefinitely. Client implements
// embedding.Embedder so it can sit behind embedding.Fallback.
type Client struct {
	model ModelInfo
}

var _ embedding.Embedder = (*Client)(nil)

// NewClient creates a client expecting the given model configuration. The
// dimensionality is sent with embed requests so the server can reject a
// mismatch instead of silently truncating or padding.
func NewClient(model ModelInfo) *Client {
	return &Client{model: model}
}

func (c *Client) Dimensions() int { return c.model.Dimensions }

func (c *Client) Model() string { return c.model.Alias }

// Status reports the daemon's loaded model alias, or ErrServerUnavailable.
func (c *Client) Status(ctx context.Context) (ModelInfo, error) {
	resp, err := c.roundTrip(ctx, request{Cmd: cmdStatus}, statusTimeout)
	if err != nil {
		return ModelInfo{}, err
	}
	if !resp.OK || resp.Model == "" {
		return ModelInfo{}, fmt.Errorf("%w: bad status response", apperr.ErrServerUnavailable)
	}
	return ModelInfo{Alias: resp.Model, Dimensions: resp.Dim}, nil
}

// Stop asks the daemon to terminate. Idempotent: an unreachable daemon is
// reported as ErrServerUnavailable, which callers treat as already stopped.
func (c *Client) Stop(ctx context.Context) error {
	_, err := c.roundTrip(ctx, request{Cmd: cmdStop}, statusTimeout)
	return err
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input text, preserving order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.roundTrip(ctx, request{Cmd: cmdEmbed, Texts: texts, Dim: c.model.Dimensions}, embedTimeout)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, decodeError(resp)
	}
	if len(resp.Vectors) != len(texts) {
		return nil, fmt.Errorf("embedserver: got %d vectors for %d texts", len(resp.Vectors), len(texts))
	}
	return resp.Vectors, nil
}

func (c *Client) roundTrip(ctx context.Context, req request, timeout time.Duration) (*response, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", SocketPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrServerUnavailable, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(deadline)

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("embedserver: marshal request: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrServerUnavailable, err)
	}
	// Half-close signals end of request.
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	raw, err := io.ReadAll(io.LimitReader(conn, maxResponseBytes))
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, fmt.Errorf("%w: response deadline exceeded", apperr.ErrTimeout)
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrServerUnavailable, err)
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response", apperr.ErrServerUnavailable)
	}
	return &resp, nil
}

// decodeError maps protocol error codes onto the apperr taxonomy.
func decodeError(resp *response) error {
	switch resp.Code {
	case codeTimeout:
		return fmt.Errorf("%w: %s", apperr.ErrTimeout, resp.Error)
	case codeRequestTooLarge:
		return fmt.Errorf("%w: %s", apperr.ErrRequestTooLarge, resp.Error)
	case codeDimensionMismatch:
		return fmt.Errorf("%w: %s", apperr.ErrDimensionMismatch, resp.Error)
	default:
		return fmt.Errorf("embedserver: %s: %s", resp.Code, resp.Error)
	}
}
