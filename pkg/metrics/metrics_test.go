package metrics

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandler(t *testing.T) {
	assert := assert.New(t)
	h := Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/ping", nil))
	assert.Equal(200, rec.Code)
	assert.Equal("OK", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(200, rec.Code)
	assert.Contains(rec.Body.String(), "go_goroutines")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/version", nil))
	assert.Equal(200, rec.Code)
	assert.NotEmpty(rec.Body.String())
}

func TestRunServerDisabled(t *testing.T) {
	assert.NoError(t, RunServer(context.Background(), ""))
}
