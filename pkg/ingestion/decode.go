package ingestion

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

const (
	EncodingAuto    = "auto"
	EncodingUTF8    = "utf-8"
	EncodingWin1252 = "windows-1252"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode turns raw export bytes into text. With EncodingAuto, input that is
// not valid UTF-8 is read as Windows-1252, the code page of older PDMS exports.
func Decode(raw []byte, encoding string) (string, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", EncodingAuto:
		if utf8.Valid(raw) {
			return string(raw), nil
		}
		return decodeWindows1252(raw)
	case EncodingUTF8, "utf8":
		if !utf8.Valid(raw) {
			return "", MalformedInputError{reason: errUndecodable}
		}
		return string(raw), nil
	case EncodingWin1252, "cp1252":
		return decodeWindows1252(raw)
	default:
		return "", MalformedInputError{reason: fmt.Errorf("%q: %w", encoding, errUnknownEncoder)}
	}
}

func decodeWindows1252(raw []byte) (string, error) {
	decoded, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), raw)
	if err != nil {
		return "", MalformedInputError{reason: fmt.Errorf("windows-1252: %w", err)}
	}
	return string(decoded), nil
}
