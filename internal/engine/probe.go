package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/halvar-l/grabbit/internal/utils"
)

// ProbeResult reports what the server disclosed about the resource.
type ProbeResult struct {
	TotalSize      int64 // -1 when the server won't disclose it
	SupportsRanges bool
}

const stageProbe = "probe"

// Probe determines the resource size and whether the server honors byte-range
// requests. It asks for the first byte with a range header: a 206 for exactly
// that range proves range support, a 200 means the server ignored the header.
func Probe(ctx context.Context, client *utils.HTTPClient, link string) (ProbeResult, error) {
	unknown := ProbeResult{TotalSize: -1, SupportsRanges: false}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return unknown, NewError(KindProbe, stageProbe, err)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := client.Do(req)
	if err != nil {
		return unknown, NewError(KindProbe, stageProbe, err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		total, err := parseContentRangeTotal(resp.Header.Get("Content-Range"))
		if err != nil {
			// Partial content without a usable total: size unknown, so
			// fragmentation is off the table anyway.
			return unknown, nil
		}
		return ProbeResult{TotalSize: total, SupportsRanges: true}, nil

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// Typically an empty resource. Fall back to a HEAD for the size.
		return probeHead(ctx, client, link)

	case resp.StatusCode == http.StatusOK:
		// Server ignored the range header and is sending the whole resource.
		if resp.ContentLength > 0 {
			return ProbeResult{TotalSize: resp.ContentLength, SupportsRanges: false}, nil
		}
		return unknown, nil

	default:
		return unknown, &Error{
			Kind:   KindProbe,
			Stage:  stageProbe,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("server returned %s", resp.Status),
		}
	}
}

func probeHead(ctx context.Context, client *utils.HTTPClient, link string) (ProbeResult, error) {
	unknown := ProbeResult{TotalSize: -1, SupportsRanges: false}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return unknown, NewError(KindProbe, stageProbe, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return unknown, NewError(KindProbe, stageProbe, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return unknown, &Error{
			Kind:   KindProbe,
			Stage:  stageProbe,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("server returned %s", resp.Status),
		}
	}
	if resp.ContentLength < 0 {
		return unknown, nil
	}
	return ProbeResult{
		TotalSize:      resp.ContentLength,
		SupportsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
	}, nil
}

// parseContentRangeTotal extracts the total size from "bytes 0-0/12345".
func parseContentRangeTotal(header string) (int64, error) {
	if header == "" {
		return 0, errors.New("missing Content-Range header")
	}
	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return 0, fmt.Errorf("malformed Content-Range %q", header)
	}
	total := header[idx+1:]
	if total == "*" {
		return 0, errors.New("server did not disclose total size")
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("malformed Content-Range %q", header)
	}
	return size, nil
}
