package storageservice

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPGatewayClient implements IPFSClient against a read/write IPFS HTTP
// gateway (the Kubo RPC API's /api/v0/cat and /api/v0/pin/add endpoints).
// No example repo in the retrieved pack imports an IPFS client library, so
// this is a narrow net/http implementation of the interface storageservice
// already defines, not a replacement for one.
type HTTPGatewayClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGatewayClient returns a client against the gateway at baseURL
// (e.g. "http://localhost:5001").
func NewHTTPGatewayClient(baseURL string) *HTTPGatewayClient {
	return &HTTPGatewayClient{baseURL: baseURL, client: &http.Client{}}
}

func (c *HTTPGatewayClient) Cat(ctx context.Context, hash string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v0/cat?arg="+hash, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storageservice: ipfs cat %s: status %d", hash, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *HTTPGatewayClient) Pin(ctx context.Context, hash string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v0/pin/add?arg="+hash, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("storageservice: ipfs pin %s: status %d", hash, resp.StatusCode)
	}
	return nil
}
