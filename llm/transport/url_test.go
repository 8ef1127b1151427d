package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveURLAvoidsDuplicateV1(t *testing.T) {
	assert.Equal(t, "https://api.example.com/v1/chat/completions",
		ResolveURL("https://api.example.com/v1", "/v1/chat/completions"))
}

func TestResolveURLJoinsCleanly(t *testing.T) {
	assert.Equal(t, "https://api.example.com/v1/chat/completions",
		ResolveURL("https://api.example.com", "/v1/chat/completions"))
}

func TestResolveURLHandlesMissingSlashes(t *testing.T) {
	assert.Equal(t, "https://api.example.com/v1/models",
		ResolveURL("https://api.example.com/", "v1/models"))
}
