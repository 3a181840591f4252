package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Channel is the quantum channel a minimization job targets.
type Channel struct {
	ChannelID       int64  `json:"channel_id"`
	InputDimension  int    `json:"input_dimension"`
	OutputDimension int    `json:"output_dimension"`
	NumKraus        int    `json:"num_kraus"`
	Method          string `json:"method"`
}

// CreateChannel registers a new channel definition with the server.
func (c *Client) CreateChannel(ctx context.Context, inputDim, outputDim, numKraus int, method string) (*Channel, error) {
	var ch *Channel
	err := c.withAuth(ctx, "create_channel", func(ctx context.Context) error {
		form := url.Values{
			"input_dimension":  {strconv.Itoa(inputDim)},
			"output_dimension": {strconv.Itoa(outputDim)},
			"num_kraus":        {strconv.Itoa(numKraus)},
			"method":           {method},
		}
		req, err := c.bearerRequest(ctx, http.MethodPost, c.url("/channels/create"), strings.NewReader(form.Encode()))
		if err != nil {
			return newErr(KindTransport, "create_channel", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return newErr(KindTransport, "create_channel", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return newErr(KindTransport, "create_channel", fmt.Errorf("server returned %d", resp.StatusCode))
		}
		var out Channel
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return newErr(KindProtocol, "create_channel", err)
		}
		ch = &out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// ListChannels returns every channel registered by this account.
func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	err := c.withAuth(ctx, "list_channels", func(ctx context.Context) error {
		req, err := c.bearerRequest(ctx, http.MethodGet, c.url("/channels/list"), nil)
		if err != nil {
			return newErr(KindTransport, "list_channels", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return newErr(KindTransport, "list_channels", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return newErr(KindTransport, "list_channels", fmt.Errorf("server returned %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&channels); err != nil {
			return newErr(KindProtocol, "list_channels", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return channels, nil
}

// UpdateChannelMinimizationAttempts reports how many minimization attempts
// have been made against a channel.
func (c *Client) UpdateChannelMinimizationAttempts(ctx context.Context, channelID int64, attempts int) error {
	return c.jobForm(ctx, "update_channel_minimization_attempts", "/channels/update-minimization-attempts", url.Values{
		"channel_id": {fmtInt(channelID)},
		"attempts":   {strconv.Itoa(attempts)},
	})
}
