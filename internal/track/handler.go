package track

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/crhistian-cornejo/quotebar/internal/models"
)

// maxInspectBody is the largest response body the handler will buffer for
// token extraction. Larger bodies pass through uninspected.
const maxInspectBody = 64 * 1024

// Sink receives one record per tracked exchange. Logging is best-effort; a
// slow sink must not block the HTTP path for long.
type Sink interface {
	Add(entry models.RequestLog)
}

// Handler is an http.RoundTripper that transparently tracks requests to
// known provider hosts. Requests to other hosts pass through untouched and
// untimed.
type Handler struct {
	next       http.RoundTripper
	classifier *Classifier
	sink       Sink
}

// NewHandler wraps next with request tracking. A nil next uses
// http.DefaultTransport.
func NewHandler(next http.RoundTripper, classifier *Classifier, sink Sink) *Handler {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Handler{next: next, classifier: classifier, sink: sink}
}

// RoundTrip implements http.RoundTripper.
func (h *Handler) RoundTrip(req *http.Request) (*http.Response, error) {
	provider, tracked := h.classifier.Provider(req.URL.Hostname())
	if !tracked {
		return h.next.RoundTrip(req)
	}

	entry := models.RequestLog{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Method:    req.Method,
		Endpoint:  req.URL.Path,
		Provider:  provider,
	}
	if req.ContentLength > 0 {
		entry.RequestBytes = req.ContentLength
	}

	start := time.Now()
	resp, err := h.next.RoundTrip(req)
	entry.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		entry.Error = err.Error()
		h.emit(entry)
		return resp, err
	}

	entry.StatusCode = resp.StatusCode
	if resp.ContentLength > 0 {
		entry.ResponseBytes = resp.ContentLength
	}

	if h.shouldInspect(provider, req.URL.Path, resp) {
		if body, ok := h.bufferBody(resp); ok {
			if entry.ResponseBytes == 0 {
				entry.ResponseBytes = int64(len(body))
			}
			model, counts := extractorFor(provider)(body)
			entry.Model = model
			entry.InputTokens = counts.Input
			entry.OutputTokens = counts.Output
		}
	}

	h.emit(entry)
	return resp, nil
}

func (h *Handler) emit(entry models.RequestLog) {
	if h.sink != nil {
		h.sink.Add(entry)
	}
}

// shouldInspect gates body parsing: success status, a known token-bearing
// path and a body below the size ceiling.
func (h *Handler) shouldInspect(provider, path string, resp *http.Response) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	if !h.classifier.TokenBearing(provider, path) {
		return false
	}
	if resp.ContentLength > maxInspectBody {
		return false
	}
	return true
}

// replayBody prepends buffered bytes back in front of a partially consumed
// body while keeping the original Close.
type replayBody struct {
	io.Reader
	orig io.ReadCloser
}

func (b replayBody) Close() error {
	return b.orig.Close()
}

// bufferBody reads the response body and restores it so the caller can still
// read it in full. Bodies that turn out larger than the ceiling are restored
// unparsed.
func (h *Handler) bufferBody(resp *http.Response) ([]byte, bool) {
	if resp.Body == nil {
		return nil, false
	}

	orig := resp.Body
	buffered, err := io.ReadAll(io.LimitReader(orig, maxInspectBody+1))
	resp.Body = replayBody{
		Reader: io.MultiReader(bytes.NewReader(buffered), orig),
		orig:   orig,
	}
	if err != nil {
		// The caller sees the truncated body only because the transport
		// already failed mid-read.
		return nil, false
	}
	if int64(len(buffered)) > maxInspectBody {
		return nil, false
	}
	return buffered, true
}
