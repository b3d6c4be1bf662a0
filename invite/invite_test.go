package invite

import (
	"encoding/base64"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIssuer_InvalidBase(t *testing.T) {
	_, err := NewIssuer("://not-a-url", "lobby")
	assert.Error(t, err)
}

func TestIssuer_Token(t *testing.T) {
	iss, err := NewIssuer("http://localhost:8080", "lobby")
	require.NoError(t, err)

	a := iss.Token()
	b := iss.Token()

	_, err = uuid.Parse(a)
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestIssuer_Link(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		param string
		token string
		want  string
	}{
		{
			name:  "plain base",
			base:  "http://localhost:8080",
			param: "lobby",
			token: "abc-123",
			want:  "http://localhost:8080?lobby=abc-123",
		},
		{
			name:  "base with path",
			base:  "https://games.example.com/c4",
			param: "lobby",
			token: "tok",
			want:  "https://games.example.com/c4?lobby=tok",
		},
		{
			name:  "existing query preserved",
			base:  "http://localhost:8080?version=1",
			param: "lobby",
			token: "tok",
			want:  "http://localhost:8080?lobby=tok&version=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iss, err := NewIssuer(tt.base, tt.param)
			require.NoError(t, err)

			link := iss.Link(tt.token)

			assert.Equal(t, tt.want, link)
			u, err := url.Parse(link)
			require.NoError(t, err)
			assert.Equal(t, tt.token, u.Query().Get(tt.param))
		})
	}
}

func TestIssuer_Artifact(t *testing.T) {
	iss, err := NewIssuer("http://localhost:8080", "lobby")
	require.NoError(t, err)

	a, err := iss.Artifact(iss.Token())
	require.NoError(t, err)

	assert.NotEmpty(t, a.URL)
	assert.Equal(t, qrSize, a.QRWidth)

	png, err := base64.StdEncoding.DecodeString(a.QRBase64)
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}
