package errors

import "encoding/json"

type ZipZapErrorType int

const (
	UnknownError ZipZapErrorType = iota
	ConfigurationError
	InvalidInputError
)

// signer errors
const (
	SignerUnavailableError ZipZapErrorType = 1000 + iota
	UserRejectedError
	SignatureFormatError
	InvalidKeyError
	VerificationError
)

// lightning daemon errors
const (
	DaemonUnreachableError ZipZapErrorType = 2000 + iota
	CredentialsMissingError
	DaemonTimeoutError
	DaemonRequestError
)

// relay errors
const (
	RelayConnectionError ZipZapErrorType = 3000 + iota
	PublishTimeoutError
	QueryFailedError
	EventNotFoundError
	EventInvalidError
)

func New(code ZipZapErrorType, err error) ZipZapError {
	return ZipZapError{Err: err, Message: err.Error(), Code: code}
}

type ZipZapError struct {
	Message string          `json:"message"`
	Err     error           `json:"-"`
	Code    ZipZapErrorType `json:"code"`
}

func (e ZipZapError) Error() string {
	j, err := json.Marshal(&e)
	if err != nil {
		return e.Message
	}
	return string(j)
}

func (e ZipZapError) Unwrap() error {
	return e.Err
}

// Code extracts the ZipZapErrorType from err, walking the wrap chain.
// Returns UnknownError if err carries no code.
func Code(err error) ZipZapErrorType {
	for err != nil {
		if ze, ok := err.(ZipZapError); ok {
			return ze.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return UnknownError
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code ZipZapErrorType) bool {
	return err != nil && Code(err) == code
}
