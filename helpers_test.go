package spacetraveling

import "testing"

func TestBuildURL(t *testing.T) {
	tests := []struct {
		base     string
		segments []string
		want     string
	}{
		{"https://blog.example.com", nil, "https://blog.example.com/"},
		{"https://blog.example.com/", nil, "https://blog.example.com/"},
		{"https://example.com/blog", nil, "https://example.com/blog/"},
		{"https://blog.example.com", []string{"post", "a"}, "https://blog.example.com/post/a/"},
		{"https://example.com/blog/", []string{"banner", "a"}, "https://example.com/blog/banner/a/"},
	}
	for _, tt := range tests {
		if got := BuildURL(tt.base, tt.segments...); got != tt.want {
			t.Errorf("BuildURL(%q, %v) = %q, want %q", tt.base, tt.segments, got, tt.want)
		}
	}
}

func TestPostURL(t *testing.T) {
	if got := PostURL("https://blog.example.com", "como-utilizar-hooks"); got != "https://blog.example.com/post/como-utilizar-hooks/" {
		t.Errorf("PostURL = %q", got)
	}
}
