// Package dcs talks to the HTTP API of a dCS network player to read its
// current playback state, most importantly the audio format it reports
// for the stream it is rendering.
package dcs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"roondisplay/internal/httputil"
)

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a client for the device at host (hostname or IP).
func New(host string) *Client {
	return &Client{
		baseURL: "http://" + host,
		http:    httputil.NewClientWithTimeout(httputil.DeviceTimeout),
		// The device's control board is easily overwhelmed; keep
		// polling well under its comfort zone.
		limiter: rate.NewLimiter(5, 2),
	}
}

// NewWithBaseURL is for tests against a local HTTP server.
func NewWithBaseURL(baseURL string) *Client {
	c := New("")
	c.baseURL = baseURL
	c.limiter = rate.NewLimiter(rate.Inf, 0)
	return c
}

// AudioFormat is the stream format the device reports.
type AudioFormat struct {
	SampleFrequency int `json:"sampleFrequency"`
	BitsPerSample   int `json:"bitsPerSample"`
	Channels        int `json:"nrAudioChannels"`
}

// String renders the format for display, e.g. "44.1 kHz 16 bit".
// A zero bit depth means the device has no valid format yet and renders
// as the empty string, as does a missing sample rate.
func (f AudioFormat) String() string {
	if f.BitsPerSample <= 0 || f.SampleFrequency <= 0 {
		return ""
	}
	var rateStr string
	if f.SampleFrequency >= 1000 {
		khz := float64(f.SampleFrequency) / 1000
		if khz == float64(int(khz)) {
			rateStr = fmt.Sprintf("%d kHz", int(khz))
		} else {
			rateStr = fmt.Sprintf("%.1f kHz", khz)
		}
	} else {
		rateStr = fmt.Sprintf("%d Hz", f.SampleFrequency)
	}
	return fmt.Sprintf("%s %d bit", rateStr, f.BitsPerSample)
}

// PlaybackInfo is the subset of the device's player data we use.
type PlaybackInfo struct {
	State       string
	Title       string
	Artist      string
	Album       string
	Duration    int
	AudioFormat *AudioFormat
}

func (c *Client) getData(ctx context.Context, path, roles string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	u := fmt.Sprintf("%s/api/getData?path=%s&roles=%s",
		c.baseURL, url.QueryEscape(path), url.QueryEscape(roles))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device request failed: %w", err)
	}
	defer httputil.DrainBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("device returned status %d: %s", resp.StatusCode, httputil.Truncate(body, 200))
	}
	return body, nil
}

// playerData mirrors the relevant parts of the /player/data response.
// The endpoint returns a two-element array whose second element is the
// data object.
type playerData struct {
	State      string `json:"state"`
	TrackRoles struct {
		Title     string `json:"title"`
		MediaData struct {
			MetaData struct {
				Artist string `json:"artist"`
				Album  string `json:"album"`
			} `json:"metaData"`
			Resources []AudioFormat `json:"resources"`
		} `json:"mediaData"`
	} `json:"trackRoles"`
	Status struct {
		Duration int `json:"duration"`
	} `json:"status"`
}

// PlaybackInfo fetches the device's current playback state.
func (c *Client) PlaybackInfo(ctx context.Context) (*PlaybackInfo, error) {
	body, err := c.getData(ctx, "/player/data", "title,value")
	if err != nil {
		return nil, err
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		return nil, fmt.Errorf("parsing player data: %w", err)
	}
	if len(elems) < 2 {
		return nil, fmt.Errorf("unexpected player data shape: %s", httputil.Truncate(body, 120))
	}

	var data playerData
	if err := json.Unmarshal(elems[1], &data); err != nil {
		return nil, fmt.Errorf("parsing player data: %w", err)
	}

	info := &PlaybackInfo{
		State:    data.State,
		Title:    data.TrackRoles.Title,
		Artist:   data.TrackRoles.MediaData.MetaData.Artist,
		Album:    data.TrackRoles.MediaData.MetaData.Album,
		Duration: data.Status.Duration,
	}
	if res := data.TrackRoles.MediaData.Resources; len(res) > 0 {
		f := res[0]
		info.AudioFormat = &f
	}
	return info, nil
}

// Format returns the display string for the device's current stream, or
// "" when the device reports no usable format. It satisfies the
// reconciler's format provider contract.
func (c *Client) Format(ctx context.Context) (string, error) {
	info, err := c.PlaybackInfo(ctx)
	if err != nil {
		return "", err
	}
	if info.AudioFormat == nil {
		return "", nil
	}
	return info.AudioFormat.String(), nil
}
