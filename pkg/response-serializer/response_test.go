package serializer

import (
	"bufio"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestReadStoredResponseBodyIntact(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\nServer: Test\r\nContent-Length: 16\r\n\r\nThis is the body"

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		t.Fatal(err)
	}
	sRes, err := ReadStoredResponse(res, time.Now())
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if string(sRes.Body) != "This is the body" {
		t.Fatalf("Body: %s", sRes.Body)
	}
	if sRes.Header.Get("Content-Length") != "" {
		t.Fatalf("Content-Length kept in %+v", sRes.Header)
	}
	// every response gets its own reader
	for i := 0; i < 2; i++ {
		body, err := io.ReadAll(sRes.Response(nil).Body)
		if err != nil || string(body) != "This is the body" {
			t.Fatalf("Body %d: %s (%v)", i, body, err)
		}
	}
}

func TestStoredResponseSerialization(t *testing.T) {
	header := http.Header{}
	header.Add("Test", "-ing")
	header.Add("Set-Cookie", "a=1")
	header.Add("Set-Cookie", "b=2")
	storedAt := time.Unix(1700000000, 0)

	bts, err := StoredResponse{
		StatusCode: 201,
		Header:     header,
		Body:       []byte("created"),
		StoredAt:   storedAt,
	}.Bytes()
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}

	res, err := BytesToStoredResponse(bts)
	if err != nil {
		t.Fatalf("Error creating response: %+v", err)
	}
	if res.StatusCode != 201 {
		t.Fatalf("Status is %d", res.StatusCode)
	}
	if res.Header.Get("test") != "-ing" || len(res.Header.Values("Set-Cookie")) != 2 {
		t.Fatalf("Headers wrong %+v", res.Header)
	}
	if res.Header.Get(TimeHeaderName) != "" {
		t.Fatalf("Timestamp header not removed %+v", res.Header)
	}
	if !res.StoredAt.Equal(storedAt) {
		t.Fatalf("Stored at %s", res.StoredAt)
	}
	if string(res.Body) != "created" {
		t.Fatalf("Body is %s", res.Body)
	}
}

func TestReadStoredAt(t *testing.T) {
	storedAt := time.Unix(1700000000, 0)
	withTime, _ := StoredResponse{StatusCode: 200, Header: http.Header{}, Body: []byte("x"), StoredAt: storedAt}.Bytes()
	withoutTime, _ := StoredResponse{StatusCode: 200, Header: http.Header{}, Body: []byte("x")}.Bytes()

	if ts, ok, err := ReadStoredAt(withTime); err != nil || !ok || !ts.Equal(storedAt) {
		t.Fatalf("Got %s %v %v", ts, ok, err)
	}
	if _, ok, err := ReadStoredAt(withoutTime); err != nil || ok {
		t.Fatalf("Got %v %v for response without timestamp", ok, err)
	}
	if _, _, err := ReadStoredAt([]byte("garbage")); err == nil {
		t.Fatal("Expected error for garbage bytes")
	}
}

func TestSuccessful(t *testing.T) {
	for status, want := range map[int]bool{200: true, 204: true, 299: true, 304: false, 404: false, 500: false} {
		if got := (StoredResponse{StatusCode: status}).Successful(); got != want {
			t.Fatalf("Successful(%d) = %v", status, got)
		}
	}
}
