package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultBodyLimit caps how much of a response body is kept for checks.
const DefaultBodyLimit = 1 << 20

// Body is what ReadBody learned about a response body.
type Body struct {
	Data      []byte // first limit bytes, nil when not kept
	Size      int64  // total bytes read off the wire
	Truncated bool
}

// ReadBody drains and closes resp.Body so the connection can be reused. When
// keep is true up to limit bytes are retained for body checks.
func ReadBody(resp *http.Response, keep bool, limit int64) (Body, error) {
	if resp == nil || resp.Body == nil {
		return Body{}, errors.New("response has no body")
	}
	defer resp.Body.Close()

	if limit <= 0 {
		limit = DefaultBodyLimit
	}

	var out Body
	if keep {
		var buf bytes.Buffer
		n, err := io.CopyN(&buf, resp.Body, limit)
		out.Size = n
		out.Data = buf.Bytes()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("read body: %w", err)
		}
	}

	rest, err := io.Copy(io.Discard, resp.Body)
	out.Size += rest
	if rest > 0 && keep {
		out.Truncated = true
	}
	if err != nil {
		return out, fmt.Errorf("drain body: %w", err)
	}
	return out, nil
}
