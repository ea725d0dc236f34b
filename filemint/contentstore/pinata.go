package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/filemint/filemint/filemint/failures"
)

const DefaultPinataURL = "https://api.pinata.cloud"

type PinataConfig struct {
	URL       string
	JWT       string
	APIKey    string
	APISecret string
	Timeout   time.Duration

	// MaxFileSize rejects larger payloads before any request is made. Zero disables the check.
	MaxFileSize int64
}

// Pinata is a Store backed by the Pinata pinning API.
type Pinata struct {
	baseURL    string
	jwt        string
	apiKey     string
	apiSecret  string
	maxSize    int64
	httpClient *http.Client
	logger     log.Logger
}

var _ Store = (*Pinata)(nil)

func NewPinata(cfg PinataConfig) (*Pinata, error) {
	if cfg.JWT == "" && (cfg.APIKey == "" || cfg.APISecret == "") {
		return nil, fmt.Errorf("pinata credentials are required: set a JWT or an API key and secret")
	}
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = DefaultPinataURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}

	return &Pinata{
		baseURL:   strings.TrimRight(baseURL, "/"),
		jwt:       cfg.JWT,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		maxSize:   cfg.MaxFileSize,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.New("component", "pinata"),
	}, nil
}

type pinataMetadata struct {
	Name string `json:"name"`
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

func (p *Pinata) Pin(ctx context.Context, name string, data []byte) (PinnedArtifact, error) {
	if len(data) == 0 {
		return PinnedArtifact{}, fmt.Errorf("%w: empty file", failures.ErrPayloadRejected)
	}
	if p.maxSize > 0 && int64(len(data)) > p.maxSize {
		return PinnedArtifact{}, fmt.Errorf("%w: file is %d bytes, limit is %d", failures.ErrPayloadRejected, len(data), p.maxSize)
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return PinnedArtifact{}, fmt.Errorf("failed to create multipart file: %w", err)
	}
	_, err = part.Write(data)
	if err != nil {
		return PinnedArtifact{}, fmt.Errorf("failed to write multipart file: %w", err)
	}

	meta, err := json.Marshal(pinataMetadata{Name: name})
	if err != nil {
		return PinnedArtifact{}, fmt.Errorf("failed to encode pin metadata: %w", err)
	}
	err = mw.WriteField("pinataMetadata", string(meta))
	if err != nil {
		return PinnedArtifact{}, fmt.Errorf("failed to write pin metadata: %w", err)
	}
	err = mw.Close()
	if err != nil {
		return PinnedArtifact{}, fmt.Errorf("failed to close multipart body: %w", err)
	}

	res, err := p.post(ctx, "/pinning/pinFileToIPFS", mw.FormDataContentType(), body)
	if err != nil {
		return PinnedArtifact{}, err
	}

	p.logger.Debug("Pinned file", "name", name, "cid", res.IpfsHash, "size", res.PinSize)

	return PinnedArtifact{ContentID: res.IpfsHash, Size: int64(len(data)), Kind: KindFile}, nil
}

func (p *Pinata) PinJSON(ctx context.Context, name string, document any) (PinnedArtifact, error) {
	content, err := json.Marshal(document)
	if err != nil {
		return PinnedArtifact{}, fmt.Errorf("%w: failed to encode document: %v", failures.ErrPayloadRejected, err)
	}

	payload, err := json.Marshal(struct {
		Content  json.RawMessage `json:"pinataContent"`
		Metadata pinataMetadata  `json:"pinataMetadata"`
	}{
		Content:  content,
		Metadata: pinataMetadata{Name: name},
	})
	if err != nil {
		return PinnedArtifact{}, fmt.Errorf("failed to encode pin request: %w", err)
	}

	res, err := p.post(ctx, "/pinning/pinJSONToIPFS", "application/json", bytes.NewReader(payload))
	if err != nil {
		return PinnedArtifact{}, err
	}

	p.logger.Debug("Pinned json", "name", name, "cid", res.IpfsHash, "size", res.PinSize)

	return PinnedArtifact{ContentID: res.IpfsHash, Size: int64(len(content)), Kind: KindMetadata}, nil
}

func (p *Pinata) post(ctx context.Context, path, contentType string, body io.Reader) (*pinResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if p.jwt != "" {
		req.Header.Set("Authorization", "Bearer "+p.jwt)
	} else {
		req.Header.Set("pinata_api_key", p.apiKey)
		req.Header.Set("pinata_secret_api_key", p.apiSecret)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		// A caller cancellation is not a storage outage and must not be retried.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("pin request to %s: %w", path, ctx.Err())
		}
		return nil, fmt.Errorf("%w: pin request to %s: %v", failures.ErrStorageUnavailable, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", failures.ErrStorageUnavailable, err)
	}

	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return nil, fmt.Errorf("pin request to %s: %w", path, err)
	}

	res := &pinResponse{}
	err = json.Unmarshal(respBody, res)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", failures.ErrStorageUnavailable, err)
	}
	if res.IpfsHash == "" {
		return nil, fmt.Errorf("%w: response carries no content identifier", failures.ErrStorageUnavailable)
	}

	return res, nil
}

func classifyStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}

	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("%w: status %d: %s", failures.ErrStorageUnavailable, status, msg)
	case status >= 400:
		return fmt.Errorf("%w: status %d: %s", failures.ErrPayloadRejected, status, msg)
	}
	return errors.Join(failures.ErrStorageUnavailable, fmt.Errorf("unexpected status %d", status))
}
