package web

import (
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
)

// ErrRangeNotSatisfiable is returned by ParseRange for ranges that cannot be served.
var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

// ParseRange parses a single `bytes=` range against a file of size bytes and
// returns the inclusive byte span. Ends beyond the file are capped.
func ParseRange(header string, size int64) (start, end int64, err error) {
	ranges, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(ranges, ",") {
		return 0, 0, ErrRangeNotSatisfiable
	}

	startStr, endStr, ok := strings.Cut(ranges, "-")
	if !ok {
		return 0, 0, ErrRangeNotSatisfiable
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	// suffix range: the last n bytes
	if startStr == "" {
		n, ok := parseRangeInt(endStr)
		if !ok || n <= 0 || size == 0 {
			return 0, 0, ErrRangeNotSatisfiable
		}
		return max(size-n, 0), size - 1, nil
	}

	if start, ok = parseRangeInt(startStr); !ok {
		return 0, 0, ErrRangeNotSatisfiable
	}
	if start >= size {
		return 0, 0, ErrRangeNotSatisfiable
	}

	end = size - 1
	if endStr != "" {
		requested, ok := parseRangeInt(endStr)
		if !ok {
			return 0, 0, ErrRangeNotSatisfiable
		}
		end = min(requested, size-1)
	}
	if start > end {
		return 0, 0, ErrRangeNotSatisfiable
	}

	return start, end, nil
}

// parseRangeInt accepts only ASCII digits, no sign or whitespace.
func parseRangeInt(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// serveFile streams path honoring a Range header. A non-empty filename is
// sent as an attachment disposition.
func serveFile(c *gin.Context, path, contentType, filename string) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			respondError(c, http.StatusNotFound, "file not found")
			return
		}
		respondInternal(c, errors.Wrapf(err, "open %s", path))
		return
	}
	defer f.Close() // nolint: errcheck

	info, err := f.Stat()
	if err != nil {
		respondInternal(c, errors.Wrapf(err, "stat %s", path))
		return
	}
	size := info.Size()

	h := c.Writer.Header()
	h.Set("Accept-Ranges", "bytes")

	status := http.StatusOK
	start, length := int64(0), size
	if rangeHeader := c.GetHeader("Range"); rangeHeader != "" {
		var end int64
		if start, end, err = ParseRange(rangeHeader, size); err != nil {
			h.Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
			respondError(c, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable")
			return
		}
		length = end - start + 1
		status = http.StatusPartialContent
		h.Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+
			strconv.FormatInt(end, 10)+"/"+strconv.FormatInt(size, 10))
	}

	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	if filename != "" {
		h.Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	}
	c.Status(status)
	if c.Request.Method == http.MethodHead {
		return
	}

	if _, err = io.Copy(c.Writer, io.NewSectionReader(f, start, length)); err != nil {
		gmw.GetLogger(c).Debug("stream interrupted",
			zap.String("path", path),
			zap.Error(err))
	}
}
