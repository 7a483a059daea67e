package trustlistclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"reflect"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func response(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     header,
	}
}

func TestClient_StatusAndUpdates(t *testing.T) {
	certs := []struct{ kid, token, body string }{
		{"2Rk3X8HntrI=", "1", "TUlJQg=="},
		{"AAECAwQFBgc=", "2", "TUlJQw=="},
	}
	var tokens []string
	client := New("https://dsc.example/", time.Second)
	client.httpClient = &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			switch r.URL.Path {
			case "/signercertificateStatus":
				return response(http.StatusOK, `["2Rk3X8HntrI=","AAECAwQFBgc="]`, nil), nil
			case "/signercertificateUpdate":
				token := r.Header.Get("X-RESUME-TOKEN")
				tokens = append(tokens, token)
				next := 0
				if token != "" {
					next = len(certs)
					for i, c := range certs {
						if c.token == token {
							next = i + 1
						}
					}
				}
				if next >= len(certs) {
					return response(http.StatusNoContent, "", nil), nil
				}
				h := make(http.Header)
				h.Set("X-KID", certs[next].kid)
				h.Set("X-RESUME-TOKEN", certs[next].token)
				return response(http.StatusOK, certs[next].body+"\n", h), nil
			}
			return response(http.StatusNotFound, "", nil), nil
		}),
	}
	ctx := context.Background()

	kids, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !reflect.DeepEqual(kids, []string{"2Rk3X8HntrI=", "AAECAwQFBgc="}) {
		t.Fatalf("unexpected kids %v", kids)
	}

	token := ""
	var got []string
	for {
		update, err := client.Update(ctx, token)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if update == nil {
			break
		}
		got = append(got, update.KID+"="+update.EncodedCert)
		token = update.ResumeToken
	}
	if !reflect.DeepEqual(got, []string{"2Rk3X8HntrI==TUlJQg==", "AAECAwQFBgc==TUlJQw=="}) {
		t.Fatalf("unexpected updates %v", got)
	}
	if !reflect.DeepEqual(tokens, []string{"", "1", "2"}) {
		t.Fatalf("unexpected resume tokens %v", tokens)
	}
}

func TestClient_UpdateErrors(t *testing.T) {
	cases := []struct {
		name string
		resp *http.Response
	}{
		{"server error", response(http.StatusInternalServerError, "", nil)},
		{"missing headers", response(http.StatusOK, "TUlJQg==", nil)},
		{"not base64", func() *http.Response {
			h := make(http.Header)
			h.Set("X-KID", "k")
			h.Set("X-RESUME-TOKEN", "1")
			return response(http.StatusOK, "%%%", h)
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := New("https://dsc.example", time.Second)
			client.httpClient = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
				return tc.resp, nil
			})}
			if _, err := client.Update(context.Background(), ""); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
