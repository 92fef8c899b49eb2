package settlement

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

// httpClient posts compressed batches to a base-chain submission endpoint.
// The signing authority is injected at construction and lives for the
// process lifetime; key rotation happens out of band.
type httpClient struct {
	endpoint  string
	authority ed25519.PrivateKey
	client    *http.Client
	log       *zap.Logger
}

func NewHTTPClient(endpoint string, authority ed25519.PrivateKey, log *zap.Logger) Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &httpClient{
		endpoint:  endpoint,
		authority: authority,
		client:    &http.Client{Timeout: 30 * time.Second},
		log:       log,
	}
}

func (c *httpClient) SubmitBatch(ctx context.Context, batch Batch) (Ref, error) {
	payload, err := EncodeBatch(batch)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrForwarding, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Rollup-Authority", base58.Encode(c.authority.Public().(ed25519.PublicKey)))
	req.Header.Set("X-Rollup-Signature", base58.Encode(ed25519.Sign(c.authority, payload)))

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrForwarding, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrForwarding, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: endpoint returned status %d", ErrForwarding, resp.StatusCode)
	}

	ref := Ref(bytes.TrimSpace(body))
	c.log.Info("batch settled",
		zap.Int("transactions", len(batch.Transactions)),
		zap.String("ref", string(ref)),
	)
	return ref, nil
}
