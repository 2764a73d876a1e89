// Package uploader executes attachment uploads against the support
// service's media endpoint.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/helpchat/internal/chat"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 3
	defaultLimitMB     = 10
	sniffLen           = 512
)

// Config configures an Uploader.
type Config struct {
	Endpoint    string
	Concurrency int
	LimitMB     int
	Client      *http.Client
}

// Uploader posts attachments as multipart forms, a few at a time.
type Uploader struct {
	endpoint    string
	concurrency int
	limitMB     int
	client      *http.Client
	logger      *zap.Logger
}

// New creates an Uploader. Zero values in cfg fall back to defaults.
func New(cfg Config, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	u := &Uploader{
		endpoint:    cfg.Endpoint,
		concurrency: cfg.Concurrency,
		limitMB:     cfg.LimitMB,
		client:      cfg.Client,
		logger:      logger.Named("uploader"),
	}
	if u.concurrency <= 0 {
		u.concurrency = defaultConcurrency
	}
	if u.limitMB <= 0 {
		u.limitMB = defaultLimitMB
	}
	if u.client == nil {
		u.client = &http.Client{Timeout: 2 * time.Minute}
	}
	return u
}

// Upload uploads every file and returns one result per file, in order.
// It blocks until all uploads are done.
func (u *Uploader) Upload(ctx context.Context, creds chat.UploadCredentials, files []chat.PendingAttachment) []chat.UploadResult {
	results := make([]chat.UploadResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for i, f := range files {
		g.Go(func() error {
			a, err := u.uploadOne(ctx, creds, f)
			if err != nil {
				u.logger.Info("upload failed", zap.String("path", f.Path), zap.Error(err))
			}
			results[i] = chat.UploadResult{Attachment: a, Err: err}
			// A failed file never cancels its siblings.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type payload struct {
	name string
	mime string
	data []byte
}

func (u *Uploader) uploadOne(ctx context.Context, creds chat.UploadCredentials, f chat.PendingAttachment) (*chat.Attachment, error) {
	p, err := u.extract(f)
	if err != nil {
		return nil, err
	}
	if !supported(p.mime) {
		return nil, &chat.UploadError{Kind: chat.UploadUnsupportedMedia, Reason: p.mime}
	}

	body, contentType, err := encodeForm(creds, p)
	if err != nil {
		return nil, &chat.UploadError{Kind: chat.UploadExtractionFailed, Reason: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, body)
	if err != nil {
		return nil, &chat.UploadError{Kind: chat.UploadNetworkClientError, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, &chat.UploadError{Kind: chat.UploadNetworkClientError, Reason: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &chat.UploadError{Kind: chat.UploadNetworkClientError, Reason: err.Error()}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, u.statusError(resp.StatusCode, raw)
	}

	var a chat.Attachment
	if err := json.Unmarshal(raw, &a); err != nil || a.URL == "" {
		return nil, &chat.UploadError{Kind: chat.UploadUnhandleableResult}
	}
	if a.Name == "" {
		a.Name = p.name
	}
	if a.MIME == "" {
		a.MIME = p.mime
	}
	if a.Size == 0 {
		a.Size = int64(len(p.data))
	}
	return &a, nil
}

func (u *Uploader) extract(f chat.PendingAttachment) (*payload, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return nil, &chat.UploadError{Kind: chat.UploadExtractionFailed, Reason: err.Error()}
	}
	if info.IsDir() {
		return nil, &chat.UploadError{Kind: chat.UploadExtractionFailed, Reason: "is a directory"}
	}
	if info.Size() > int64(u.limitMB)<<20 {
		return nil, &chat.UploadError{Kind: chat.UploadSizeLimitExceeded, Megabytes: u.limitMB}
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, &chat.UploadError{Kind: chat.UploadExtractionFailed, Reason: err.Error()}
	}

	p := &payload{name: f.Name, mime: f.MIME, data: data}
	if p.name == "" {
		p.name = filepath.Base(f.Path)
	}
	if p.mime == "" {
		p.mime = mime.TypeByExtension(filepath.Ext(p.name))
	}
	if p.mime == "" {
		p.mime = http.DetectContentType(data[:min(len(data), sniffLen)])
	}
	return p, nil
}

func supported(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.TrimSpace(base)
	switch {
	case strings.HasPrefix(base, "image/"),
		strings.HasPrefix(base, "video/"),
		strings.HasPrefix(base, "audio/"),
		strings.HasPrefix(base, "text/"):
		return true
	}
	switch base {
	case "application/pdf", "application/zip", "application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return true
	}
	return false
}

func encodeForm(creds chat.UploadCredentials, p *payload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"site_id", strconv.FormatInt(creds.SiteID, 10)},
		{"channel_id", creds.ChannelID},
		{"client_id", creds.ClientID},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("file", p.name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(p.data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	LimitMB int    `json:"limit_mb"`
}

func (u *Uploader) statusError(code int, raw []byte) error {
	var body errorBody
	_ = json.Unmarshal(raw, &body)
	reason := body.Error
	if reason == "" {
		reason = body.Message
	}
	if reason == "" {
		reason = strings.TrimSpace(string(raw))
	}

	switch {
	case code == http.StatusRequestEntityTooLarge:
		mb := body.LimitMB
		if mb == 0 {
			mb = u.limitMB
		}
		return &chat.UploadError{Kind: chat.UploadSizeLimitExceeded, Megabytes: mb}
	case code == http.StatusUnsupportedMediaType:
		return &chat.UploadError{Kind: chat.UploadUnsupportedMedia, Reason: reason}
	case code >= 400 && code < 500:
		return &chat.UploadError{Kind: chat.UploadDeniedByServer, Reason: reason}
	default:
		return &chat.UploadError{Kind: chat.UploadUnknown, Reason: fmt.Sprintf("http %d: %s", code, reason)}
	}
}

// IsKind reports whether err is an upload error of the given kind.
func IsKind(err error, kind chat.UploadFailureKind) bool {
	var uerr *chat.UploadError
	return errors.As(err, &uerr) && uerr.Kind == kind
}
