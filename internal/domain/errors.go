package domain

import (
	"context"
	"errors"
)

// Error taxonomy shared by every stage of the exporter. Stages wrap their
// failures with one of these so the driver can classify them with errors.Is.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrDownload          = errors.New("download failed")
	ErrConversion        = errors.New("conversion failed")
	ErrUpload            = errors.New("upload failed")
	ErrConfig            = errors.New("invalid configuration")
)

// ErrorKind is the label reported in logs, summaries and the run journal.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindSourceUnavailable ErrorKind = "source_unavailable"
	KindStoreUnavailable  ErrorKind = "store_unavailable"
	KindDownload          ErrorKind = "download"
	KindConversion        ErrorKind = "conversion"
	KindUpload            ErrorKind = "upload"
	KindConfig            ErrorKind = "config"
	KindCanceled          ErrorKind = "canceled"
	KindUnknown           ErrorKind = "unknown"
)

// Classify maps an error onto its ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrSourceUnavailable):
		return KindSourceUnavailable
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, ErrDownload):
		return KindDownload
	case errors.Is(err, ErrConversion):
		return KindConversion
	case errors.Is(err, ErrUpload):
		return KindUpload
	case errors.Is(err, ErrConfig):
		return KindConfig
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}
