package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"huddle/internal/models"

	"github.com/h2non/filetype"
	"github.com/rs/zerolog/log"
)

// sniffLen is how many leading bytes filetype needs to recognise a format.
const sniffLen = 262

// DefaultMIME is used when the content type cannot be recognised.
const DefaultMIME = "application/octet-stream"

// Client talks to the room file endpoints. Downloads go through Cache when set.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Cache   FileStore
}

func NewClient(baseURL string, cache FileStore) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Cache:   cache,
	}
}

// UploadURL is the endpoint files of a room are posted to.
func (c *Client) UploadURL(room string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/rooms/" + url.PathEscape(room) + "/files"
}

// DownloadURL is a pure function of the room and the file name.
func (c *Client) DownloadURL(room, fileName string) string {
	return c.UploadURL(room) + "/" + url.PathEscape(fileName)
}

// Sniff detects the MIME type of content from its first bytes.
func Sniff(head []byte) string {
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return DefaultMIME
	}
	return kind.MIME.Value
}

// Upload posts a file as user. On success it returns the file name the server
// stored, which file messages then reference.
func (c *Client) Upload(ctx context.Context, room, user, fileName string, r io.Reader) (string, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", &models.UploadError{Err: fmt.Errorf("read file: %w", err)}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("user", user); err != nil {
		return "", &models.UploadError{Err: err}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	header.Set("Content-Type", Sniff(head))
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", &models.UploadError{Err: err}
	}
	if _, err := io.Copy(part, br); err != nil {
		return "", &models.UploadError{Err: fmt.Errorf("read file: %w", err)}
	}
	if err := mw.Close(); err != nil {
		return "", &models.UploadError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.UploadURL(room), &body)
	if err != nil {
		return "", &models.UploadError{Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", &models.UploadError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	var result models.UploadResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode/100 != 2 || decodeErr != nil || !result.Success {
		uerr := &models.UploadError{Status: resp.StatusCode, Reason: result.Message}
		if decodeErr != nil {
			uerr.Err = fmt.Errorf("unexpected response %s: %w", resp.Status, decodeErr)
		}
		return "", uerr
	}

	log.Debug().Str("room", room).Str("file", result.FileName).Int64("size", result.Size).Msg("file uploaded")
	return result.FileName, nil
}

// Download fetches a room file, serving it from Cache when possible.
func (c *Client) Download(ctx context.Context, room, fileName string) ([]byte, error) {
	key := Key(room, fileName)
	if c.Cache != nil {
		if rc, err := c.Cache.Get(key); err == nil {
			defer func() { _ = rc.Close() }()
			return io.ReadAll(rc)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadURL(room, fileName), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", fileName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, models.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("download %s: unexpected status %s", fileName, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", fileName, err)
	}

	if c.Cache != nil {
		if _, err := c.Cache.Save(bytes.NewReader(data), key); err != nil {
			log.Warn().Err(err).Str("file", fileName).Msg("cache download")
		}
	}
	return data, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
