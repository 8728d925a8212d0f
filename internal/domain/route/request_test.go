package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pwbridge/internal/domain/handle"
	"github.com/GriffinCanCode/pwbridge/internal/shared/protocol"
)

func TestRequestHeaders(t *testing.T) {
	req := newRequest(protocol.RequestDetails{
		HeadersArray: []protocol.Header{
			{Name: "Accept", Value: "text/html"},
			{Name: "X-Multi", Value: "a"},
			{Name: "x-multi", Value: "b"},
		},
	})

	assert.Equal(t, map[string]string{"accept": "text/html", "x-multi": "a, b"}, req.AllHeaders())
	assert.Equal(t, "a, b", req.HeaderValue("X-MULTI"))
	assert.Len(t, req.HeadersArray(), 3)

	req.applyOverrides(&Overrides{Headers: map[string]string{"b": "2", "a": "1"}})
	assert.Equal(t, "", req.HeaderValue("accept"))
	assert.Equal(t, []protocol.Header{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}, req.HeadersArray())
}

func TestRequestOverridesMerge(t *testing.T) {
	req := newRequest(protocol.RequestDetails{Method: "GET", URL: "https://app.test/", Body: []byte("orig")})

	req.applyOverrides(&Overrides{Method: "PUT"})
	req.applyOverrides(&Overrides{URL: "https://app.test/new"})
	req.applyOverrides(nil)

	assert.Equal(t, "PUT", req.Method())
	assert.Equal(t, "https://app.test/new", req.URL())
	data, ok := req.PostData()
	assert.True(t, ok)
	assert.Equal(t, "orig", data)

	req.applyOverrides(&Overrides{PostData: []byte("changed")})
	assert.Equal(t, []byte("changed"), req.PostDataBuffer())
}

func TestPostDataJSON(t *testing.T) {
	none := newRequest(protocol.RequestDetails{})
	v, err := none.PostDataJSON()
	require.NoError(t, err)
	assert.Nil(t, v)

	form := newRequest(protocol.RequestDetails{
		Body:         []byte("a=1&b=two"),
		HeadersArray: []protocol.Header{{Name: "Content-Type", Value: "application/x-www-form-urlencoded"}},
	})
	v, err = form.PostDataJSON()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "two"}, v)

	doc := newRequest(protocol.RequestDetails{Body: []byte(`{"n":[1,2]}`)})
	v, err = doc.PostDataJSON()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": []any{float64(1), float64(2)}}, v)

	bad := newRequest(protocol.RequestDetails{Body: []byte("{nope")})
	_, err = bad.PostDataJSON()
	assert.ErrorIs(t, err, ErrInvalidPostDataJSON)
}

func TestRequestFrame(t *testing.T) {
	worker := handle.NewProxy("sw", nil, true, nil)
	fromWorker := newRequest(protocol.RequestDetails{ServiceWorker: worker})
	_, err := fromWorker.Frame()
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.Same(t, worker, fromWorker.ServiceWorker())

	frame := handle.NewProxy("frame", nil, true, nil)
	fromPage := newRequest(protocol.RequestDetails{Frame: frame})
	got, err := fromPage.Frame()
	require.NoError(t, err)
	assert.Same(t, frame, got)
	assert.Nil(t, fromPage.ServiceWorker())
}
