package access

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxUpstreamBody caps how much of a validator response is read.
const maxUpstreamBody = 1 << 20

type upstreamReply struct {
	StatusCode int
	Body       any
}

// fetch posts the email as a form to one validator. The returned reply keeps
// the status code even when err is set so the debug view can show it.
func fetch(ctx context.Context, client *http.Client, resource Resource, email string, timeout time.Duration) (upstreamReply, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	form := url.Values{}
	form.Set("email", email)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, resource.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return upstreamReply{}, &UpstreamError{Resource: resource.Name, Err: err}
	}

	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Accept", "application/json")

	resp, err := client.Do(request)
	if err != nil {
		return upstreamReply{}, &UpstreamError{Resource: resource.Name, Err: err}
	}

	defer closeHttp(resp)

	reply := upstreamReply{StatusCode: resp.StatusCode}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return reply, &UpstreamError{Resource: resource.Name, StatusCode: resp.StatusCode}
	}

	if err := decodeBody(io.LimitReader(resp.Body, maxUpstreamBody), &reply.Body); err != nil {
		return reply, &UpstreamError{Resource: resource.Name, Err: err}
	}

	return reply, nil
}

// decodeBody accepts exactly one json value. Trailing data, as in an html
// error page glued to a json prefix, makes the whole body unparsable.
func decodeBody(r io.Reader, v *any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty response body")
		}
		return err
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		*v = nil
		return errors.New("unexpected data after json response body")
	}
	return nil
}

func defaultRoundTripperClient(timeout time.Duration) *http.Client {
	// Ensure we use a http.Transport with proper settings: the zero values are not
	// a good choice, as they cause leaking connections:
	// https://github.com/golang/go/issues/19620

	// copy, we don't want to alter the default client's Transport
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = timeout

	c := *http.DefaultClient
	c.Transport = tr
	return &c
}

func closeHttp(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxUpstreamBody))
		resp.Body.Close()
	}
}
