package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEtagFor(t *testing.T) {
	a := etagFor([]byte(`{"id":1}`))
	assert.Equal(t, a, etagFor([]byte(`{"id":1}`)))
	assert.NotEqual(t, a, etagFor([]byte(`{"id":2}`)))
	// quoted 128-bit hex digest
	assert.Len(t, a, 34)
}

func TestNotModified(t *testing.T) {
	etag := etagFor([]byte("x"))
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{etag, true},
		{"W/" + etag, true},
		{`"other", ` + etag, true},
		{`"other"`, false},
		{"*", true},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			req.Header.Set("If-None-Match", tt.header)
		}
		assert.Equal(t, tt.want, notModified(req, etag), tt.header)
	}
}
