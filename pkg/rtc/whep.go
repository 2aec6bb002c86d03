// ABOUTME: WHEP signalling over HTTP
// ABOUTME: Posts an SDP offer, returns the answer and manages the session resource
package rtc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	whepTimeout    = 10 * time.Second
	sdpContentType = "application/sdp"
)

type whepClient struct {
	http  *http.Client
	token string
}

func newWHEPClient(token string) *whepClient {
	return &whepClient{
		http:  &http.Client{Timeout: whepTimeout},
		token: token,
	}
}

func (c *whepClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// postOffer sends the offer and returns the answer SDP and the absolute
// session resource URL
func (c *whepClient) postOffer(ctx context.Context, endpoint, offer string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(offer))
	if err != nil {
		return "", "", fmt.Errorf("failed to build WHEP request: %w", err)
	}
	req.Header.Set("Content-Type", sdpContentType)
	req.Header.Set("Accept", sdpContentType)
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("WHEP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read WHEP answer: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("WHEP endpoint returned %s", resp.Status)
	}
	if len(body) == 0 {
		return "", "", fmt.Errorf("WHEP endpoint returned an empty answer")
	}

	resource := ""
	if loc := resp.Header.Get("Location"); loc != "" {
		base, err := url.Parse(endpoint)
		if err != nil {
			return "", "", fmt.Errorf("invalid WHEP endpoint: %w", err)
		}
		ref, err := url.Parse(loc)
		if err != nil {
			return "", "", fmt.Errorf("invalid WHEP Location %q: %w", loc, err)
		}
		resource = base.ResolveReference(ref).String()
	}

	return string(body), resource, nil
}

// deleteResource ends the session on the server
func (c *whepClient) deleteResource(ctx context.Context, resource string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, resource, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("WHEP delete returned %s", resp.Status)
	}
	return nil
}
