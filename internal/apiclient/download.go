package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/aschie4589/quantumhive-worker/internal/artifact"
)

type downloadLinkResponse struct {
	DownloadURL string `json:"download_url"`
}

// RequestDownloadLink resolves a file_id to a fetchable download URL.
func (c *Client) RequestDownloadLink(ctx context.Context, fileID string) (string, error) {
	var link string
	err := c.withAuth(ctx, "request_download_link", func(ctx context.Context) error {
		body, _ := json.Marshal(map[string]string{"file_id": fileID})
		req, err := c.bearerRequest(ctx, http.MethodPost, c.url("/files/request-download/"), strings.NewReader(string(body)))
		if err != nil {
			return newErr(KindTransport, "request_download_link", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return newErr(KindTransport, "request_download_link", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return newErr(KindTransport, "request_download_link", fmt.Errorf("server returned %d", resp.StatusCode))
		}
		var out downloadLinkResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return newErr(KindProtocol, "request_download_link", err)
		}
		link = out.DownloadURL
		return nil
	})
	return link, err
}

// DownloadFile streams downloadLink's response body into localPath in
// chunk_size reads, creating the destination if absent and overwriting it
// otherwise.
func (c *Client) DownloadFile(ctx context.Context, downloadLink, localPath string) error {
	return c.withAuth(ctx, "download_file", func(ctx context.Context) error {
		req, err := c.bearerRequest(ctx, http.MethodGet, downloadLink, nil)
		if err != nil {
			return newErr(KindTransport, "download_file", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return newErr(KindTransport, "download_file", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return newErr(KindTransport, "download_file", fmt.Errorf("server returned %d", resp.StatusCode))
		}

		// Pre-flight the destination: check free disk space against the
		// advertised size (when the server sends Content-Length) and
		// pre-allocate the file before streaming into it.
		size := resp.ContentLength
		if size < 0 {
			size = 0
		}
		if err := artifact.Allocate(localPath, size); err != nil {
			return newErr(KindStorage, "download_file", err)
		}

		flags := os.O_WRONLY
		if size == 0 {
			// Allocate only ensured existence when the size was unknown;
			// truncate explicitly so a shorter overwrite doesn't leave
			// trailing bytes from a previous download.
			flags |= os.O_TRUNC
		}
		out, err := os.OpenFile(localPath, flags, 0644)
		if err != nil {
			return newErr(KindStorage, "download_file", err)
		}
		defer out.Close()

		buf := make([]byte, c.chunkSize)
		// Hide *os.File's ReadFrom so CopyBuffer actually reads through buf.
		if _, err := io.CopyBuffer(struct{ io.Writer }{out}, pacedReader{ctx: ctx, r: resp.Body, limiter: c.limiter}, buf); err != nil {
			return newErr(KindStorage, "download_file", err)
		}
		return nil
	})
}

// pacedReader throttles Read through the Client's transfer.Limiter after
// every successful read, so a download's bytes are paced the same way an
// upload's chunks are.
type pacedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter interface {
		Wait(ctx context.Context, n int) error
	}
}

func (p pacedReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		if werr := p.limiter.Wait(p.ctx, n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}
