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

// GetJob requests the next job from the server. A 204 means no job is
// available and is reported as (nil, nil) — not an error — leaving all
// Controller state unchanged.
func (c *Client) GetJob(ctx context.Context) (*Job, error) {
	var job *Job
	err := c.withAuth(ctx, "get_job", func(ctx context.Context) error {
		req, err := c.bearerRequest(ctx, http.MethodGet, c.url("/jobs/request"), nil)
		if err != nil {
			return newErr(KindTransport, "get_job", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return newErr(KindTransport, "get_job", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return newErr(KindTransport, "get_job", fmt.Errorf("server returned %d", resp.StatusCode))
		}

		var raw rawJob
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return newErr(KindProtocol, "get_job", err)
		}
		j := raw.toJob()
		job = &j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (c *Client) jobForm(ctx context.Context, op, path string, form url.Values) error {
	return c.withAuth(ctx, op, func(ctx context.Context) error {
		req, err := c.bearerRequest(ctx, http.MethodPost, c.url(path), strings.NewReader(form.Encode()))
		if err != nil {
			return newErr(KindTransport, op, err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return newErr(KindTransport, op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return newErr(KindTransport, op, fmt.Errorf("server returned %d", resp.StatusCode))
		}
		return nil
	})
}

// PingJob is the heartbeat verb: tell the server the worker is still
// processing job_id.
func (c *Client) PingJob(ctx context.Context, jobID int64) error {
	return c.jobForm(ctx, "ping_job", "/jobs/ping", url.Values{"job_id": {fmtInt(jobID)}})
}

// PauseJob, ResumeJob, CompleteJob, and CancelJob mirror the server's
// matching lifecycle endpoints.
func (c *Client) PauseJob(ctx context.Context, jobID int64) error {
	return c.jobForm(ctx, "pause_job", "/jobs/pause", url.Values{"job_id": {fmtInt(jobID)}})
}

func (c *Client) ResumeJob(ctx context.Context, jobID int64) error {
	return c.jobForm(ctx, "resume_job", "/jobs/resume", url.Values{"job_id": {fmtInt(jobID)}})
}

func (c *Client) CompleteJob(ctx context.Context, jobID int64) error {
	return c.jobForm(ctx, "complete_job", "/jobs/complete", url.Values{"job_id": {fmtInt(jobID)}})
}

func (c *Client) CancelJob(ctx context.Context, jobID int64) error {
	return c.jobForm(ctx, "cancel_job", "/jobs/cancel", url.Values{"job_id": {fmtInt(jobID)}})
}

// UpdateIterations reports the current iteration count for a minimize job.
func (c *Client) UpdateIterations(ctx context.Context, jobID int64, n int) error {
	return c.jobForm(ctx, "update_iterations", "/jobs/update-iterations", url.Values{
		"job_id":         {fmtInt(jobID)},
		"num_iterations": {strconv.Itoa(n)},
	})
}

// UpdateEntropy reports the current entropy estimate for a minimize job.
func (c *Client) UpdateEntropy(ctx context.Context, jobID int64, entropy float64) error {
	return c.jobForm(ctx, "update_entropy", "/jobs/update-entropy", url.Values{
		"job_id":  {fmtInt(jobID)},
		"entropy": {strconv.FormatFloat(entropy, 'f', -1, 64)},
	})
}

// Status is the decoded response of get_status; its shape is server-defined
// beyond job_id/job_status, so extra fields are preserved raw.
type Status struct {
	JobID  int64                  `json:"job_id"`
	Status string                 `json:"job_status"`
	Extra  map[string]interface{} `json:"-"`
}

// GetStatus fetches the server's view of a job's status.
func (c *Client) GetStatus(ctx context.Context, jobID int64) (*Status, error) {
	var status *Status
	err := c.withAuth(ctx, "get_status", func(ctx context.Context) error {
		form := url.Values{"job_id": {fmtInt(jobID)}}
		req, err := c.bearerRequest(ctx, http.MethodPost, c.url("/jobs/status"), strings.NewReader(form.Encode()))
		if err != nil {
			return newErr(KindTransport, "get_status", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return newErr(KindTransport, "get_status", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return newErr(KindTransport, "get_status", fmt.Errorf("server returned %d", resp.StatusCode))
		}
		var raw json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return newErr(KindProtocol, "get_status", err)
		}
		var s Status
		if err := json.Unmarshal(raw, &s); err != nil {
			return newErr(KindProtocol, "get_status", err)
		}
		if err := json.Unmarshal(raw, &s.Extra); err != nil {
			return newErr(KindProtocol, "get_status", err)
		}
		delete(s.Extra, "job_id")
		delete(s.Extra, "job_status")
		status = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

func fmtInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
