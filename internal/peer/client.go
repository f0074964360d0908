package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// defaultTimeout bounds an ordinary peer request; bulk endpoints (block
// range fetches) get bulkTimeout instead (spec.md §5).
const defaultTimeout = 3 * time.Second
const bulkTimeout = 10 * time.Second

// senderNodeHeader bootstraps peer discovery on the receiving end.
const senderNodeHeader = "Sender-Node"

// envelope mirrors the node's JSON response shape: {ok, result|error}.
type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// ErrTransport wraps a timeout or connection failure. Gossiper keeps such
// a peer and leaves its last-contact timestamp unchanged.
type ErrTransport struct{ err error }

func (e *ErrTransport) Error() string { return fmt.Sprintf("peer: transport error: %v", e.err) }
func (e *ErrTransport) Unwrap() error { return e.err }

// ErrMalformed wraps a response the peer returned but that failed to
// parse — the caller should remove the peer from the registry.
type ErrMalformed struct{ err error }

func (e *ErrMalformed) Error() string { return fmt.Sprintf("peer: malformed response: %v", e.err) }
func (e *ErrMalformed) Unwrap() error { return e.err }

// Client issues HTTP requests against remote nodes' RPC surfaces.
type Client struct {
	HTTP    *http.Client
	SelfURL string
}

// NewClient returns a Client whose requests identify as selfURL via the
// Sender-Node header.
func NewClient(selfURL string) *Client {
	return &Client{HTTP: &http.Client{}, SelfURL: selfURL}
}

// Request issues a GET to baseURL+path with args as the query string,
// enforcing timeout (defaultTimeout or bulkTimeout per caller). It
// returns the envelope's result field on ok:true, ErrTransport on
// timeout/connection failure, and ErrMalformed on a body that isn't a
// valid envelope.
func (c *Client) Request(ctx context.Context, baseURL, path string, args url.Values, bulk bool) (json.RawMessage, error) {
	timeout := defaultTimeout
	if bulk {
		timeout = bulkTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	full := strings.TrimRight(baseURL, "/") + path
	if len(args) > 0 {
		full += "?" + args.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, &ErrMalformed{err}
	}
	req.Header.Set(senderNodeHeader, c.SelfURL)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &ErrTransport{err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ErrTransport{err}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ErrMalformed{err}
	}
	if !env.OK {
		return nil, &ErrMalformed{fmt.Errorf("%s", env.Error)}
	}
	return env.Result, nil
}

// GetBlock fetches a single block (by id or hash) with its transactions.
func (c *Client) GetBlock(ctx context.Context, baseURL, blockIDOrHash string) (json.RawMessage, error) {
	return c.Request(ctx, baseURL, "/get_block", url.Values{"block": {blockIDOrHash}}, false)
}

// GetBlocks fetches up to limit blocks starting at offset.
func (c *Client) GetBlocks(ctx context.Context, baseURL string, offset, limit int64) (json.RawMessage, error) {
	args := url.Values{
		"offset": {fmt.Sprintf("%d", offset)},
		"limit":  {fmt.Sprintf("%d", limit)},
	}
	return c.Request(ctx, baseURL, "/get_blocks", args, true)
}

// GetNodes fetches a peer's known node list.
func (c *Client) GetNodes(ctx context.Context, baseURL string) (json.RawMessage, error) {
	return c.Request(ctx, baseURL, "/get_nodes", nil, false)
}
