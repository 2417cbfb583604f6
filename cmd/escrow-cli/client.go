package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ayush1832/tg-escrow-bot-sub001/cmd/internal/prompt"
)

const defaultEndpoint = "http://localhost:7090"

type apiError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
}

var (
	tokenSource = prompt.NewSource("ESCROW_TOKEN", "escrow bearer token")
	httpClient  = &http.Client{Timeout: 15 * time.Second}
)

func endpoint() string {
	if value := strings.TrimSpace(os.Getenv("ESCROW_ENDPOINT")); value != "" {
		return strings.TrimRight(value, "/")
	}
	return defaultEndpoint
}

// callEscrowAPI sends one request to the daemon. A non-2xx status is
// returned as an apiError rather than a transport error.
func callEscrowAPI(method, path string, body any) (json.RawMessage, *apiError, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, endpoint()+path, reader)
	if err != nil {
		return nil, nil, err
	}
	token, err := tokenSource.Get()
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr, nil
	}
	return json.RawMessage(raw), nil, nil
}
