package ingestion

import (
	"errors"
	"fmt"
)

var (
	errEmptyInput     = errors.New("export is empty")
	errNoKnownBlock   = errors.New("no recognizable block header")
	errUndecodable    = errors.New("export is not valid text in the configured encoding")
	errBadDelimiter   = errors.New("unsupported delimiter")
	errUnknownEncoder = errors.New("unknown encoding")
)

// MalformedInputError is the only structural failure of parsing: the input
// cannot be read as an export at all.
type MalformedInputError struct {
	reason error
}

func (e MalformedInputError) Error() string {
	return fmt.Sprintf("malformed export: %v", e.reason)
}

func (e MalformedInputError) Unwrap() error {
	return e.reason
}

func IsMalformedInput(err error) bool {
	var me MalformedInputError
	return errors.As(err, &me)
}
