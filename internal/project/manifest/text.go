package manifest

import (
	"bytes"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// manifestText returns data without its byte order mark, or false when
// data cannot be a YAML or JSON manifest: it holds a NUL byte or is not
// valid UTF-8 (UTF-16 files land here too).
func manifestText(data []byte) ([]byte, bool) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return nil, false
	}
	return data, true
}
