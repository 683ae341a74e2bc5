// internal/thumbor/builder_test.go
package thumbor

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationPath(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder)
		want  string
	}{
		{"empty", func(b *Builder) {}, ""},
		{"resize", func(b *Builder) { b.Resize(300, 200) }, "300x200/"},
		{"fit-in", func(b *Builder) { b.FitIn(300, 200) }, "fit-in/300x200/"},
		{
			"flips without size",
			func(b *Builder) { b.FlipHorizontally().FlipVertically() },
			"-0x-0/",
		},
		{
			"everything in thumbor order",
			func(b *Builder) {
				b.FitIn(100, 50).
					SmartCrop(true).
					Filter("quality(80)").
					Filter("grayscale()").
					FlipHorizontally().
					HAlign("left").
					VAlign("top").
					Filter("format(webp)")
			},
			"fit-in/-100x50/left/top/smart/filters:quality(80):grayscale():format(webp)/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("", "http://thumbor")
			tt.build(b)
			assert.Equal(t, tt.want, b.OperationPath())
		})
	}
}

func TestBuildURL_Unsafe(t *testing.T) {
	got, err := New("", "http://thumbor.local/").
		SetImagePath("/images/cat.jpg").
		Resize(50, 50).
		BuildURL()
	require.NoError(t, err)
	assert.Equal(t, "http://thumbor.local/unsafe/50x50/images/cat.jpg", got)
}

func TestBuildURL_Signed(t *testing.T) {
	const key = "MY_SECURE_KEY"
	got, err := New(key, "https://img.example.com").
		SetImagePath("example.com/a.png").
		Resize(300, 200).
		SmartCrop(true).
		BuildURL()
	require.NoError(t, err)

	prefix := "https://img.example.com/"
	require.True(t, strings.HasPrefix(got, prefix))
	rest := strings.TrimPrefix(got, prefix)
	signature, path, ok := strings.Cut(rest, "/")
	require.True(t, ok)
	assert.Equal(t, "300x200/smart/example.com/a.png", path)

	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(path))
	expected := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, expected, signature)
	assert.NotContains(t, signature, "+")
	assert.NotContains(t, signature, "/")
}

func TestBuildURL_NoImage(t *testing.T) {
	_, err := New("k", "http://thumbor").Resize(1, 1).BuildURL()
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestAbsoluteURL(t *testing.T) {
	tests := []struct {
		base, ref, want string
	}{
		{"https://site.example/blog/post.html", "https://cdn.example/a.jpg", "https://cdn.example/a.jpg"},
		{"https://site.example/blog/post.html", "ftp://files.example/a.jpg", "ftp://files.example/a.jpg"},
		{"https://site.example/blog/post.html", "cdvfile://localhost/a.jpg", "cdvfile://localhost/a.jpg"},
		{"https://site.example/blog/post.html", "img/a.jpg", "https://site.example/blog/img/a.jpg"},
		{"https://site.example/blog/post.html", "../img/a.jpg", "https://site.example/img/a.jpg"},
		{"https://site.example/blog/post.html", "/img/a.jpg", "https://site.example/img/a.jpg"},
		{"", "img/a.jpg", "img/a.jpg"},
	}

	for _, tt := range tests {
		got, err := AbsoluteURL(tt.base, tt.ref)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "AbsoluteURL(%q, %q)", tt.base, tt.ref)
	}
}
