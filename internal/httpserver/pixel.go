package httpserver

import (
	"net/http"
	"strconv"
)

// TransparentPixel is a 1x1 transparent GIF
var TransparentPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00,
	0x01, 0x00, 0x80, 0x00, 0x00, 0xFF, 0xFF, 0xFF,
	0x00, 0x00, 0x00, 0x21, 0xF9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2C, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
	0x01, 0x00, 0x3B,
}

// writePixel sends the impression response. The body is omitted for HEAD.
func writePixel(w http.ResponseWriter, head bool) {
	h := w.Header()
	h.Set("Content-Type", "image/gif")
	h.Set("Content-Disposition", "inline")
	h.Set("Content-Length", strconv.Itoa(len(TransparentPixel)))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	if !head {
		_, _ = w.Write(TransparentPixel)
	}
	flush(w)
}

// writeRedirect sends the click response. Location is passed through as
// received.
func writeRedirect(w http.ResponseWriter, dest string) {
	h := w.Header()
	h["Location"] = []string{dest}
	h.Set("Content-Length", "0")
	h.Set("Connection", "close")
	w.WriteHeader(http.StatusFound)
	flush(w)
}

func flush(w http.ResponseWriter) {
	// Writers that cannot flush still deliver the response when the
	// handler returns.
	_ = http.NewResponseController(w).Flush()
}
