// Package client is a typed HTTP client for the qatestsuit API, meant
// for QA harnesses that drive the service from Go.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/suren-cb/qatestsuit/pkg/api"
)

// Client is a qatestsuit API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	username   string
	password   string
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithTimeout sets the timeout for the HTTP client
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithBasicAuth sets the credentials sent with every request
func WithBasicAuth(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new qatestsuit API client
func NewClient(baseURL string, options ...ClientOption) *Client {
	client := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// RegisterImage adds an image definition to the catalog
func (c *Client) RegisterImage(req api.RegisterImageRequest) (*api.ImageDefinition, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest("POST", "/api/images/register", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out api.RegisterImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListImages returns all registered image definitions
func (c *Client) ListImages() ([]api.ImageDefinition, error) {
	resp, err := c.doRequest("GET", "/api/images", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out api.ListImagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Images, nil
}

// GetImage returns one image definition by id
func (c *Client) GetImage(id string) (*api.ImageDefinition, error) {
	resp, err := c.doRequest("GET", fmt.Sprintf("/api/images/%s", id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out api.ImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// DeleteImage removes an image definition from the catalog
func (c *Client) DeleteImage(id string) error {
	resp, err := c.doRequest("DELETE", fmt.Sprintf("/api/images/%s", id), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// PullImage fetches a catalog image ahead of its first start
func (c *Client) PullImage(id string) error {
	resp, err := c.doRequest("POST", fmt.Sprintf("/api/images/%s/pull", id), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// StartContainer starts a new instance of a catalog image
func (c *Client) StartContainer(imageID string) (*api.ContainerInfo, error) {
	data, err := json.Marshal(api.StartContainerRequest{ImageID: imageID})
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest("POST", "/api/containers/start", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out api.StartContainerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// StopContainer stops one instance by id
func (c *Client) StopContainer(id string) error {
	resp, err := c.doRequest("POST", fmt.Sprintf("/api/containers/%s/stop", id), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ContainerStatus returns the live status of one instance
func (c *Client) ContainerStatus(id string) (*api.ContainerInfo, error) {
	resp, err := c.doRequest("GET", fmt.Sprintf("/api/containers/%s", id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out api.ContainerStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListContainers returns the live status of every instance
func (c *Client) ListContainers() ([]api.ContainerInfo, error) {
	resp, err := c.doRequest("GET", "/api/containers", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out api.ListContainersResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Containers, nil
}

// StopAll stops every tracked instance
func (c *Client) StopAll() (*api.SweepResponse, error) {
	resp, err := c.doRequest("POST", "/api/containers/stop-all", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out api.SweepResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cleanup stops instances older than maxAge. A negative maxAge applies
// the server's configured default.
func (c *Client) Cleanup(maxAge time.Duration) (*api.SweepResponse, error) {
	path := "/api/containers/cleanup"
	if maxAge >= 0 {
		query := url.Values{"max_age_seconds": {strconv.Itoa(int(maxAge / time.Second))}}
		path += "?" + query.Encode()
	}

	resp, err := c.doRequest("POST", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out api.SweepResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the service health report
func (c *Client) Health() (*api.HealthResponse, error) {
	resp, err := c.doRequest("GET", "/health", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var apiErr api.Error
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return nil, fmt.Errorf("HTTP error: %s", resp.Status)
		}
		return nil, fmt.Errorf("API error: %d - %s", apiErr.Code, apiErr.Message)
	}

	return resp, nil
}
