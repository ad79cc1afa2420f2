// Package gateway uploads file attachments to a Pinata-style IPFS pinning
// service. Storage and retrieval are the gateway's problem; this client only
// produces the content hash and URL that ride inside a file envelope.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	defaultEndpoint    = "https://api.pinata.cloud/pinning/pinFileToIPFS"
	defaultGatewayBase = "https://gateway.pinata.cloud"
	defaultTimeout     = 60 * time.Second
)

// FileInput describes the attachment being uploaded.
type FileInput struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// UploadResult is the absorbed outcome of an upload attempt. Failures land in
// Error rather than an error return: the caller shows "upload failed" and
// moves on, nothing in the chat path propagates it further.
type UploadResult struct {
	Success  bool   `json:"success"`
	IPFSHash string `json:"ipfsHash,omitempty"`
	URL      string `json:"url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Client talks to the pinning endpoint with a bearer token.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	gatewayBase string
	jwt         string
	log         *zap.Logger
}

// New builds a gateway client; empty endpoint or base fall back to the public
// Pinata service.
func New(endpoint, gatewayBase, jwt string, timeout time.Duration, log *zap.Logger) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if gatewayBase == "" {
		gatewayBase = defaultGatewayBase
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		endpoint:    endpoint,
		gatewayBase: gatewayBase,
		jwt:         jwt,
		log:         log,
	}
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// Upload pins a file and returns its content hash and gateway URL.
func (c *Client) Upload(ctx context.Context, in FileInput) UploadResult {
	if in.Name == "" || in.Reader == nil {
		return c.failure("file name and content are required", nil)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", in.Name)
	if err != nil {
		return c.failure("build upload form", err)
	}
	if _, err := io.Copy(part, in.Reader); err != nil {
		return c.failure("read file content", err)
	}

	metadata, _ := json.Marshal(map[string]any{
		"name": in.Name,
		"keyvalues": map[string]string{
			"fileType": in.ContentType,
			"fileSize": strconv.FormatInt(in.Size, 10),
		},
	})
	if err := writer.WriteField("pinataMetadata", string(metadata)); err != nil {
		return c.failure("write metadata field", err)
	}
	options, _ := json.Marshal(map[string]any{"cidVersion": 0})
	if err := writer.WriteField("pinataOptions", string(options)); err != nil {
		return c.failure("write options field", err)
	}
	if err := writer.Close(); err != nil {
		return c.failure("finalize upload form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return c.failure("build upload request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.jwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.jwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.failure("upload request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return c.failure(fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, payload), nil)
	}

	var pinned pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pinned); err != nil {
		return c.failure("decode gateway response", err)
	}
	if pinned.IpfsHash == "" {
		return c.failure("gateway response missing content hash", nil)
	}

	return UploadResult{
		Success:  true,
		IPFSHash: pinned.IpfsHash,
		URL:      c.gatewayBase + "/ipfs/" + pinned.IpfsHash,
	}
}

func (c *Client) failure(msg string, err error) UploadResult {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	if c.log != nil {
		c.log.Warn("file upload failed", zap.String("reason", msg))
	}
	return UploadResult{Success: false, Error: msg}
}
