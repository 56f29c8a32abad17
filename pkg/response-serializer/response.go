package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// TimeHeaderName carries the creation time of a stored response (unix seconds).
const TimeHeaderName = "Offline-Cache-Time"

// StoredResponse is the metadata envelope and the opaque body of a cached response.
type StoredResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// The value of the clock when the response was received from the network.
	// Zero if the stored bytes did not carry a timestamp.
	StoredAt time.Time
}

// ReadStoredResponse consumes and closes the body of the response.
func ReadStoredResponse(res *http.Response, storedAt time.Time) (StoredResponse, error) {
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return StoredResponse{}, err
	}
	header := res.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Del("Content-Length")
	return StoredResponse{
		StatusCode: res.StatusCode,
		Header:     header,
		Body:       body,
		StoredAt:   storedAt,
	}, nil
}

// Successful reports whether the response has a 2xx status code.
func (s StoredResponse) Successful() bool {
	return s.StatusCode >= 200 && s.StatusCode < 300
}

// Response creates a new response to the given request.
// Every call returns an independent body reader.
func (s StoredResponse) Response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.StatusCode, http.StatusText(s.StatusCode)),
		StatusCode:    s.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        s.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}

// Bytes returns the HTTP/1.1 representation of the stored response.
// The creation time is written as an extra header.
func (s StoredResponse) Bytes() ([]byte, error) {
	res := s.Response(nil)
	if !s.StoredAt.IsZero() {
		res.Header.Set(TimeHeaderName, strconv.FormatInt(s.StoredAt.Unix(), 10))
	}
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BytesToStoredResponse parses bytes written by StoredResponse.Bytes.
func BytesToStoredResponse(b []byte) (StoredResponse, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return StoredResponse{}, err
	}
	storedAt, err := storedAt(res.Header)
	if err != nil {
		return StoredResponse{}, err
	}
	// delete extra headers
	res.Header.Del(TimeHeaderName)
	return ReadStoredResponse(res, storedAt)
}

// ReadStoredAt returns the creation time of the stored bytes without reading the body.
// The boolean is false if the stored response carries no timestamp.
func ReadStoredAt(b []byte) (time.Time, bool, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := storedAt(res.Header)
	return t, !t.IsZero(), err
}

func storedAt(header http.Header) (time.Time, error) {
	value := header.Get(TimeHeaderName)
	if value == "" {
		return time.Time{}, nil
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s header: %w", TimeHeaderName, err)
	}
	return time.Unix(unix, 0), nil
}
