package apiclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"

	"github.com/google/uuid"
)

type uploadLinkResponse struct {
	UploadURL string `json:"upload_url"`
}

// RequestUploadLink asks the server for a fresh upload destination.
func (c *Client) RequestUploadLink(ctx context.Context) (string, error) {
	var link string
	err := c.withAuth(ctx, "request_upload_link", func(ctx context.Context) error {
		req, err := c.bearerRequest(ctx, http.MethodPost, c.url("/files/request-upload"), nil)
		if err != nil {
			return newErr(KindTransport, "request_upload_link", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return newErr(KindTransport, "request_upload_link", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return newErr(KindTransport, "request_upload_link", fmt.Errorf("server returned %d", resp.StatusCode))
		}
		var out uploadLinkResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return newErr(KindProtocol, "request_upload_link", err)
		}
		link = out.UploadURL
		return nil
	})
	return link, err
}

// UploadFile transmits localPath to uploadLink, splitting into
// max_request_size chunks when the file exceeds that ceiling. Chunks are
// sent sequentially in index order under one session_id; any chunk failure
// aborts the whole upload.
func (c *Client) UploadFile(ctx context.Context, jobID int64, fileType FileType, localPath, uploadLink string) error {
	return c.withAuth(ctx, "upload_file", func(ctx context.Context) error {
		info, err := os.Stat(localPath)
		if err != nil {
			return newErr(KindStorage, "upload_file", err)
		}

		size := info.Size()
		totalChunks := int((size + c.maxRequestSize - 1) / c.maxRequestSize)
		if totalChunks == 0 {
			totalChunks = 1
		}

		// The server correlates chunks by a 128-bit random hex session id.
		u := uuid.New()
		sessionID := hex.EncodeToString(u[:])

		f, err := os.Open(localPath)
		if err != nil {
			return newErr(KindStorage, "upload_file", err)
		}
		defer f.Close()

		for i := 1; i <= totalChunks; i++ {
			chunkLen := c.maxRequestSize
			if i == totalChunks {
				chunkLen = size - c.maxRequestSize*int64(totalChunks-1)
			}
			buf := make([]byte, chunkLen)
			if _, err := io.ReadFull(f, buf); err != nil {
				return newErr(KindStorage, "upload_file", err)
			}
			if err := c.limiter.Wait(ctx, len(buf)); err != nil {
				return newErr(KindCancelled, "upload_file", err)
			}

			if err := c.postChunk(ctx, uploadLink, jobID, fileType, sessionID, i, totalChunks, buf); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Client) postChunk(ctx context.Context, uploadLink string, jobID int64, fileType FileType, sessionID string, index, total int, chunk []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	_ = w.WriteField("job_id", fmtInt(jobID))
	_ = w.WriteField("file_type", string(fileType))
	_ = w.WriteField("total_chunks", strconv.Itoa(total))
	_ = w.WriteField("chunk_index", strconv.Itoa(index))
	_ = w.WriteField("session_id", sessionID)

	part, err := w.CreateFormFile("file", fmt.Sprintf("chunk_%d", index))
	if err != nil {
		return newErr(KindProtocol, "upload_file", err)
	}
	if _, err := part.Write(chunk); err != nil {
		return newErr(KindProtocol, "upload_file", err)
	}
	if err := w.Close(); err != nil {
		return newErr(KindProtocol, "upload_file", err)
	}

	req, err := c.bearerRequest(ctx, http.MethodPost, uploadLink, &body)
	if err != nil {
		return newErr(KindTransport, "upload_file", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newErr(KindTransport, "upload_file", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newErr(KindTransport, "upload_file", fmt.Errorf("chunk %d/%d: server returned %d", index, total, resp.StatusCode))
	}
	return nil
}
