package terrors

import (
	"errors"
	"fmt"
)

type TError int

const (
	InvalidPayload   TError = iota + 10000 // the message body can not be decoded
	MissingVector                          // embedding message without a vector
	EmptyDocument                          // nothing to chunk
	DownloadFailed                         // object could not be fetched
	ExtractFailed                          // pdf could not be parsed
	NotPDF                                 // object content is not a pdf
	EmbeddingFailed                        // ollama did not return embeddings
	PublishFailed                          // broker refused or lost the message
	DatabaseErr                            // database error
	ParametersAreWrong                     // The parameters are wrong.

	Success = 0
	Unknown = -1
)

func (e TError) Int() int {
	return int(e)
}

func (e TError) String() string {
	switch e {
	case InvalidPayload:
		return "invalid_payload"
	case MissingVector:
		return "missing_vector"
	case EmptyDocument:
		return "empty_document"
	case DownloadFailed:
		return "download_failed"
	case ExtractFailed:
		return "extract_failed"
	case NotPDF:
		return "not_pdf"
	case EmbeddingFailed:
		return "embedding_failed"
	case PublishFailed:
		return "publish_failed"
	case DatabaseErr:
		return "database"
	case ParametersAreWrong:
		return "bad_parameters"
	case Success:
		return "ok"
	default:
		return "unknown"
	}
}

// Error attaches a TError code to an underlying error.
type Error struct {
	Code TError
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with code. A nil err still yields an error carrying code.
func New(code TError, err error) error {
	return &Error{Code: code, Err: err}
}

// Errorf is New with a formatted message.
func Errorf(code TError, format string, args ...interface{}) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Code extracts the TError carried by err, Success for nil and Unknown when
// err carries no code.
func Code(err error) TError {
	if err == nil {
		return Success
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return Unknown
}
