package chat

import "fmt"

// UploadFailureKind is the closed set of attachment upload failures.
type UploadFailureKind string

const (
	UploadExtractionFailed   UploadFailureKind = "extraction_failed"
	UploadNetworkClientError UploadFailureKind = "network_client_error"
	UploadSizeLimitExceeded  UploadFailureKind = "size_limit_exceeded"
	UploadDeniedByServer     UploadFailureKind = "denied_by_server"
	UploadUnsupportedMedia   UploadFailureKind = "unsupported_media_type"
	UploadUnhandleableResult UploadFailureKind = "result_unhandleable"
	UploadUnknown            UploadFailureKind = "unknown"
)

// UploadError describes a failed attachment upload.
type UploadError struct {
	Kind      UploadFailureKind
	Megabytes int
	Reason    string
}

func (e *UploadError) Error() string {
	switch e.Kind {
	case UploadSizeLimitExceeded:
		return fmt.Sprintf("upload: size limit of %d MB exceeded", e.Megabytes)
	case UploadDeniedByServer, UploadUnknown:
		if e.Reason != "" {
			return fmt.Sprintf("upload: %s: %s", e.Kind, e.Reason)
		}
	}
	return "upload: " + string(e.Kind)
}

// PendingAttachment is a local file the client wants to send.
type PendingAttachment struct {
	Path string
	Name string
	MIME string
}

// UploadCredentials identify the uploader target.
type UploadCredentials struct {
	ClientID  string
	ChannelID string
	SiteID    int64
}

// UploadResult is the outcome of one attachment upload. Exactly one of
// Attachment and Err is set.
type UploadResult struct {
	Attachment *Attachment
	Err        error
}
