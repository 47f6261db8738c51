package core

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// maxDecodedBody caps decompressed bodies so a hostile stream cannot
// exhaust memory.
const maxDecodedBody = 32 << 20

// DecodeBody undoes a Content-Encoding of br or gzip. Unknown or empty
// encodings return body unchanged.
func DecodeBody(body []byte, encoding string) ([]byte, error) {
	var r io.Reader
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "br":
		r = brotli.NewReader(bytes.NewReader(body))
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("opening gzip body: %w", err)
		}
		defer gz.Close()
		r = gz
	default:
		return body, nil
	}
	out, err := io.ReadAll(io.LimitReader(r, maxDecodedBody+1))
	if err != nil {
		return nil, fmt.Errorf("decoding %s body: %w", encoding, err)
	}
	if len(out) > maxDecodedBody {
		return nil, fmt.Errorf("decoded %s body exceeds %d bytes", encoding, maxDecodedBody)
	}
	return out, nil
}

// headerValue looks a header up case-insensitively in a flattened map.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
