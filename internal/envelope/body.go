package envelope

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrDecompress = errors.New("gzip decompress failed")
	ErrTooLarge   = errors.New("body too large")
)

func looksLikeGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

// Decompress returns the plain body, gunzipping when the Content-Encoding
// header says gzip or the body starts with the gzip magic bytes. The
// decompressed size is capped at max.
func Decompress(body []byte, contentEncoding string, max int64) ([]byte, error) {
	gz := strings.Contains(strings.ToLower(contentEncoding), "gzip")
	if !gz && !looksLikeGzip(body) {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, max+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	if int64(len(out)) > max {
		return nil, ErrTooLarge
	}
	return out, nil
}
