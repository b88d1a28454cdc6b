package dvr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voyagen/collectarr/internal/models"
)

const defaultHTTPTimeout = 15 * time.Second

// ErrCollectionNotFound is returned when the DVR has no collection with the
// requested slug.
var ErrCollectionNotFound = errors.New("collection not found")

// Client is a lightweight Channels DVR HTTP API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Channels DVR client for the server at baseURL.
// If timeout is zero, it defaults to 15 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// deviceResponse is one entry of the DVR /devices listing.
type deviceResponse struct {
	DeviceID     string `json:"DeviceID"`
	FriendlyName string `json:"FriendlyName"`
	Provider     string `json:"Provider"`
}

// channelResponse is one entry of a device's channel listing.
type channelResponse struct {
	ID          string `json:"ID"`
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	Callsign    string `json:"Callsign"`
	Affiliate   string `json:"Affiliate"`
}

// ListDevices returns the DVR's tuner and source devices.
func (c *Client) ListDevices(ctx context.Context) ([]models.Source, error) {
	status, body, err := c.get(ctx, "/devices")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", status)
	}

	var devices []deviceResponse
	if err := json.Unmarshal(body, &devices); err != nil {
		return nil, fmt.Errorf("unmarshal devices: %w", err)
	}

	sources := make([]models.Source, 0, len(devices))
	for _, d := range devices {
		sources = append(sources, models.Source{
			ID:       d.DeviceID,
			Name:     d.FriendlyName,
			Provider: d.Provider,
		})
	}
	return sources, nil
}

// ListChannels returns the merged channel inventory across every device,
// each channel stamped with its device ID and name. A device whose channel
// listing fails is logged and skipped; an empty total inventory is an
// error.
func (c *Client) ListChannels(ctx context.Context) ([]models.Channel, error) {
	devices, err := c.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var all []models.Channel
	for _, d := range devices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		status, body, err := c.get(ctx, "/devices/"+url.PathEscape(d.ID)+"/channels")
		if err != nil {
			log.Printf("dvr: channels for device %s: %v", d.ID, err)
			continue
		}
		if status != http.StatusOK {
			log.Printf("dvr: channels for device %s: HTTP %d", d.ID, status)
			continue
		}
		var channels []channelResponse
		if err := json.Unmarshal(body, &channels); err != nil {
			log.Printf("dvr: decode channels for device %s: %v", d.ID, err)
			continue
		}
		for _, ch := range channels {
			all = append(all, models.Channel{
				ID:         ch.ID,
				Number:     ch.GuideNumber,
				Name:       ch.GuideName,
				Callsign:   ch.Callsign,
				Affiliate:  ch.Affiliate,
				SourceID:   d.ID,
				SourceName: d.Name,
			})
		}
	}

	if len(all) == 0 {
		return nil, errors.New("no channels returned by any device")
	}
	return all, nil
}

// ListCollections returns every channel collection on the DVR.
func (c *Client) ListCollections(ctx context.Context) ([]models.Collection, error) {
	status, body, err := c.get(ctx, "/dvr/collections/channels")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", status)
	}

	var collections []models.Collection
	if err := json.Unmarshal(body, &collections); err != nil {
		return nil, fmt.Errorf("unmarshal collections: %w", err)
	}
	return collections, nil
}

// GetCollection fetches one collection by slug. A missing slug returns an
// error wrapping ErrCollectionNotFound.
func (c *Client) GetCollection(ctx context.Context, slug string) (*models.Collection, error) {
	status, body, err := c.get(ctx, "/dvr/collections/channels/"+url.PathEscape(slug))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("collection %q: %w", slug, ErrCollectionNotFound)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", status)
	}

	var col models.Collection
	if err := json.Unmarshal(body, &col); err != nil {
		return nil, fmt.Errorf("unmarshal collection: %w", err)
	}
	return &col, nil
}

// UpdateCollectionItems rewrites a collection's membership. The stored
// document is fetched, only its "items" field replaced, and the result PUT
// back, so collection fields this service does not model survive the round
// trip. A slug the DVR does not know yet is created from a fresh document.
func (c *Client) UpdateCollectionItems(ctx context.Context, slug string, items []string) error {
	if items == nil {
		items = []string{}
	}

	path := "/dvr/collections/channels/" + url.PathEscape(slug)
	status, body, err := c.get(ctx, path)
	if err != nil {
		return fmt.Errorf("fetch collection: %w", err)
	}

	doc := map[string]any{"slug": slug}
	switch {
	case status == http.StatusNotFound:
		// Leave the fresh document as is.
	case status == http.StatusOK:
		if err := json.Unmarshal(body, &doc); err != nil {
			return fmt.Errorf("unmarshal collection: %w", err)
		}
	default:
		return fmt.Errorf("fetch collection: HTTP %d", status)
	}
	doc["items"] = items

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal collection: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("update collection: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
