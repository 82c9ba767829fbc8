package access

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upstream answers every form post with the given status and body.
func upstream(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// hangingUpstream never answers before the caller gives up.
func hangingUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func resources(urls ...string) [Slots]Resource {
	names := [Slots]string{"CODIGO", "MAQUINA", "MAESTRIA"}

	var r [Slots]Resource
	for i := range r {
		r[i] = Resource{Name: names[i]}
		if i < len(urls) {
			r[i].URL = urls[i]
		}
	}
	return r
}

func newTestClient(t *testing.T, config *Config) *Client {
	t.Helper()

	if config.Timeout == 0 {
		config.Timeout = time.Second
	}

	client, err := New(config)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, client.Close(context.Background()))
	})
	return client
}

func TestValidateScenarioTimeoutAndReject(t *testing.T) {
	client := newTestClient(t, &Config{
		Timeout: 100 * time.Millisecond,
		Resources: resources(
			upstream(t, http.StatusOK, `{"join_url":"u1"}`).URL,
			hangingUpstream(t).URL,
			upstream(t, http.StatusOK, `{"error":"not found"}`).URL,
		),
	})

	result, err := client.Validate(context.Background(), ValidateOptions{Email: "a@b.com"})
	require.NoError(t, err)

	assert.True(t, result.HasAccess)
	assert.Equal(t, &ServerAccess{JoinURL: "u1"}, result.Servers[0])
	assert.Nil(t, result.Servers[1])
	assert.Nil(t, result.Servers[2])
	assert.Empty(t, result.Contact)
	assert.Equal(t, "upstream", result.Decisions[1].Reason)
	assert.Equal(t, "reject:error", result.Decisions[2].Reason)
	assert.NotEmpty(t, result.ID)
}

func TestValidateAllEmpty(t *testing.T) {
	srv := upstream(t, http.StatusOK, `{}`)
	client := newTestClient(t, &Config{Resources: resources(srv.URL, srv.URL, srv.URL)})

	result, err := client.Validate(context.Background(), ValidateOptions{Email: "a@b.com"})
	require.NoError(t, err)

	assert.False(t, result.HasAccess)
	assert.Equal(t, [Slots]*ServerAccess{}, result.Servers)
}

func TestValidateTierTimeoutIsIsolated(t *testing.T) {
	client := newTestClient(t, &Config{
		Timeout: 100 * time.Millisecond,
		Resources: resources(
			upstream(t, http.StatusOK, `{"join_url":"u0"}`).URL,
			upstream(t, http.StatusOK, `{"ok":true,"whatsapp":"111"}`).URL,
			hangingUpstream(t).URL,
		),
	})

	start := time.Now()
	result, err := client.Validate(context.Background(), ValidateOptions{Email: "a@b.com"})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, result.HasAccess)
	assert.NotNil(t, result.Servers[0])
	assert.NotNil(t, result.Servers[1])
	assert.Nil(t, result.Servers[2])
	assert.Equal(t, "111", result.Contact)
}

func TestValidateUpstreamFailuresDeny(t *testing.T) {
	granting := `{"join_url":"https://x"}`

	tests := []struct {
		name   string
		server *httptest.Server
	}{
		{name: "server error", server: upstream(t, http.StatusInternalServerError, granting)},
		{name: "not found", server: upstream(t, http.StatusNotFound, granting)},
		{name: "invalid json", server: upstream(t, http.StatusOK, `<html>login</html>`)},
		{name: "json followed by html", server: upstream(t, http.StatusOK, `{"join_url":"u"} <html>oops`)},
		{name: "two json values", server: upstream(t, http.StatusOK, `{"join_url":"u"}{"join_url":"v"}`)},
		{name: "empty body", server: upstream(t, http.StatusOK, ``)},
		{name: "json null", server: upstream(t, http.StatusOK, `null`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, &Config{Resources: resources(tt.server.URL, tt.server.URL, tt.server.URL)})

			result, err := client.Validate(context.Background(), ValidateOptions{Email: "a@b.com"})
			require.NoError(t, err)

			assert.False(t, result.HasAccess)
			assert.Len(t, result.Servers, Slots)
			for _, s := range result.Servers {
				assert.Nil(t, s)
			}
		})
	}
}

func TestValidateUnreachableUpstream(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	client := newTestClient(t, &Config{Resources: resources(
		dead.URL,
		upstream(t, http.StatusOK, `{"sala":"2","nombre":"Ana"}`).URL,
		dead.URL,
	)})

	result, err := client.Validate(context.Background(), ValidateOptions{Email: "a@b.com"})
	require.NoError(t, err)

	assert.True(t, result.HasAccess)
	assert.Nil(t, result.Servers[0])
	assert.Equal(t, &ServerAccess{}, result.Servers[1])
	assert.Nil(t, result.Servers[2])
}

func TestValidateSendsFormEncodedEmail(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		got.Store(r.FormValue("email"))
		fmt.Fprint(w, `{"join_url":"https://x"}`)
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, &Config{Resources: resources(srv.URL, srv.URL, srv.URL)})

	_, err := client.Validate(context.Background(), ValidateOptions{Email: "  Ana.Perez+1@Example.COM "})
	require.NoError(t, err)

	assert.Equal(t, "ana.perez+1@example.com", got.Load())
}

func TestValidateKeepsEndpointOrder(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, `{"join_url":"slow"}`)
	}))
	t.Cleanup(slow.Close)

	client := newTestClient(t, &Config{Resources: resources(
		slow.URL,
		upstream(t, http.StatusOK, `{"join_url":"fast","whatsapp":"222"}`).URL,
		upstream(t, http.StatusOK, `{"link":"fastest"}`).URL,
	)})

	result, err := client.Validate(context.Background(), ValidateOptions{Email: "a@b.com"})
	require.NoError(t, err)

	assert.Equal(t, "slow", result.Servers[0].JoinURL)
	assert.Equal(t, "fast", result.Servers[1].JoinURL)
	assert.Equal(t, "222", result.Servers[1].WhatsApp)
	assert.Equal(t, "fastest", result.Servers[2].JoinURL)
	assert.Equal(t, "222", result.Contact)
}

func TestValidateRejectsEmptyEmailBeforeCalling(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(srv.Close)

	client := newTestClient(t, &Config{Resources: resources(srv.URL, srv.URL, srv.URL)})

	for _, email := range []string{"", "   ", "\t\n"} {
		result, err := client.Validate(context.Background(), ValidateOptions{Email: email})

		var validationErr *ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "email", validationErr.Field)
		assert.Nil(t, result)
	}

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestValidateMissingEndpoint(t *testing.T) {
	srv := upstream(t, http.StatusOK, `{"join_url":"https://x"}`)
	client := newTestClient(t, &Config{Resources: resources(srv.URL, "", "")})

	_, err := client.Validate(context.Background(), ValidateOptions{Email: "a@b.com"})

	var configErr *ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, []string{"MAQUINA", "MAESTRIA"}, configErr.Missing)
	assert.NotContains(t, err.Error(), srv.URL)
}

func TestValidateInheritance(t *testing.T) {
	denied := upstream(t, http.StatusOK, `{"found":false}`)
	top := upstream(t, http.StatusOK, `{"join_url":"https://maestria"}`)

	t.Run("off", func(t *testing.T) {
		client := newTestClient(t, &Config{Resources: resources(denied.URL, denied.URL, top.URL)})

		result, err := client.Validate(context.Background(), ValidateOptions{Email: "a@b.com"})
		require.NoError(t, err)

		assert.Nil(t, result.Servers[0])
		assert.Nil(t, result.Servers[1])
		assert.NotNil(t, result.Servers[2])
	})

	t.Run("on", func(t *testing.T) {
		client := newTestClient(t, &Config{Inheritance: true, Resources: resources(denied.URL, denied.URL, top.URL)})

		result, err := client.Validate(context.Background(), ValidateOptions{Email: "a@b.com"})
		require.NoError(t, err)

		assert.Equal(t, &ServerAccess{Inherited: true}, result.Servers[0])
		assert.Equal(t, &ServerAccess{Inherited: true}, result.Servers[1])
		assert.Equal(t, &ServerAccess{JoinURL: "https://maestria"}, result.Servers[2])
		assert.Equal(t, "inherited", result.Decisions[0].Reason)
		assert.True(t, result.Decisions[1].Granted())
	})
}

func TestValidateStrictPolicy(t *testing.T) {
	srv := upstream(t, http.StatusOK, `{"foo":"bar"}`)
	client := newTestClient(t, &Config{
		Evaluator: HeuristicEvaluator{Policy: PolicyStrict},
		Resources: resources(srv.URL, srv.URL, srv.URL),
	})

	result, err := client.Validate(context.Background(), ValidateOptions{Email: "a@b.com"})
	require.NoError(t, err)

	assert.False(t, result.HasAccess)
}

func TestInspect(t *testing.T) {
	client := newTestClient(t, &Config{Resources: resources(
		upstream(t, http.StatusOK, `{"join_url":"u1"}`).URL,
		upstream(t, http.StatusBadGateway, `{}`).URL,
		upstream(t, http.StatusOK, `{"message":"no registrado"}`).URL,
	)})

	inspection, err := client.Inspect(context.Background(), "A@B.com", "")
	require.NoError(t, err)

	assert.Equal(t, "a@b.com", inspection.Email)
	require.Len(t, inspection.Results, Slots)

	assert.Equal(t, map[string]any{"join_url": "u1"}, inspection.Results[0].Raw)
	assert.True(t, inspection.Results[0].Decision.Granted())

	assert.Equal(t, http.StatusBadGateway, inspection.Results[1].HTTPStatus)
	assert.NotEmpty(t, inspection.Results[1].Error)

	assert.Equal(t, "reject:error", inspection.Results[2].Decision.Reason)

	assert.Equal(t, "granted (accept:join_url)", inspection.Summary["CODIGO"])
	assert.True(t, strings.HasPrefix(inspection.Summary["MAQUINA"], "error: "))
	assert.Equal(t, "denied (reject:error)", inspection.Summary["MAESTRIA"])
}

func TestInspectSingleResource(t *testing.T) {
	client := newTestClient(t, &Config{Resources: resources(
		"",
		upstream(t, http.StatusOK, `{"ok":false}`).URL,
		"",
	)})

	inspection, err := client.Inspect(context.Background(), "a@b.com", "maquina")
	require.NoError(t, err)
	require.Len(t, inspection.Results, 1)
	assert.Equal(t, 1, inspection.Results[0].Slot)
	assert.Equal(t, "denied (reject:not_authorized)", inspection.Summary["MAQUINA"])

	_, err = client.Inspect(context.Background(), "a@b.com", "codigo")
	var configErr *ConfigError
	assert.True(t, errors.As(err, &configErr))

	_, err = client.Inspect(context.Background(), "a@b.com", "lobby")
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "resource", validationErr.Field)
}
