package engine

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/halvar-l/grabbit/internal/utils"
)

func testClient() *utils.HTTPClient {
	return utils.NewHTTPClient(utils.HTTPClientConfig{
		Timeout:   5 * time.Second,
		VerifyTLS: true,
	})
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// parseRange parses "bytes=start-end" / "bytes=start-" against size, returning
// inclusive offsets.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	header = strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start >= size {
		return 0, 0, false
	}
	end = size - 1
	if parts[1] != "" {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end, true
}

type rangeServer struct {
	*httptest.Server
	requests    atomic.Int64
	rangeReqs   atomic.Int64
	maxInFlight atomic.Int64
	inFlight    atomic.Int64
}

// newRangeServer serves data with full byte-range support. The interceptor,
// when non-nil, runs first and may hijack the response entirely by returning
// true.
func newRangeServer(t *testing.T, data []byte, interceptor func(w http.ResponseWriter, r *http.Request) bool) *rangeServer {
	t.Helper()
	rs := &rangeServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.requests.Add(1)
		cur := rs.inFlight.Add(1)
		defer rs.inFlight.Add(-1)
		for {
			prev := rs.maxInFlight.Load()
			if cur <= prev || rs.maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}

		if interceptor != nil && interceptor(w, r) {
			return
		}

		size := int64(len(data))
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
			return
		}
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
			w.Write(data)
			return
		}
		rs.rangeReqs.Add(1)
		start, end, ok := parseRange(rangeHeader, size)
		if !ok {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}))
	t.Cleanup(rs.Close)
	return rs
}
