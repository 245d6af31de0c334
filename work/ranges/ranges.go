package ranges

import (
	"errors"
	"strconv"

	"github.com/grafana/regexp"
)

// ErrUnsatisfiable is returned for any Range header this engine cannot
// service against the given resource length. It maps to HTTP 416.
var ErrUnsatisfiable = errors.New("range not satisfiable")

// only the single-span bytes form is supported; multipart ranges and
// suffix ranges (bytes=-500) are rejected
var rangeRegex = regexp.MustCompile(`^bytes=(\d+)-(\d*)$`)

// Resolve parses an HTTP Range header value and computes the serviceable byte
// span against a resource of the given total length. The end offset is
// inclusive; an empty end defaults to the final byte. Pure function, no side
// effects.
func Resolve(header string, totalLength int64) (start, end int64, err error) {
	m := rangeRegex.FindStringSubmatch(header)
	if m == nil {
		return 0, 0, ErrUnsatisfiable
	}

	start, err = strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, ErrUnsatisfiable
	}

	end = totalLength - 1
	if m[2] != "" {
		end, err = strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return 0, 0, ErrUnsatisfiable
		}
	}

	if start > end || start < 0 || end >= totalLength {
		return 0, 0, ErrUnsatisfiable
	}

	return start, end, nil
}
