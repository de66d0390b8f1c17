package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/privtx/internal/enc"
)

// DefaultTimeout bounds a single push when no client is supplied.
const DefaultTimeout = 10 * time.Second

// PushPath is the peer endpoint that accepts encoded payloads.
const PushPath = "/push"

// RESTPublisher pushes each recipient's view of a payload to the peer that
// owns the recipient key.
type RESTPublisher struct {
	directory  *Directory
	httpClient *http.Client
}

// NewRESTPublisher creates a REST publisher. A nil client gets a default
// client with DefaultTimeout.
func NewRESTPublisher(directory *Directory, httpClient *http.Client) *RESTPublisher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &RESTPublisher{directory: directory, httpClient: httpClient}
}

// PublishPayload pushes payload to every recipient. All recipients are
// attempted; failures are returned together.
func (p *RESTPublisher) PublishPayload(ctx context.Context, payload *enc.EncodedPayload, recipients []enc.PublicKey) error {
	var errs []error
	for _, r := range recipients {
		if err := p.push(ctx, payload, r); err != nil {
			errs = append(errs, fmt.Errorf("publish %s to %s: %w", payload.Hash(), r, err))
		}
	}
	return errors.Join(errs...)
}

func (p *RESTPublisher) push(ctx context.Context, payload *enc.EncodedPayload, recipient enc.PublicKey) error {
	url, ok := p.directory.URLFor(recipient)
	if !ok {
		return ErrUnknownRecipient
	}

	body, err := enc.EncodePayload(payload.ForRecipient(recipient))
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+PushPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	slog.Debug("payload pushed", "hash", payload.Hash().String(), "recipient", recipient.String(), "peer", url)
	return nil
}
