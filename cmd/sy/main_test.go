package main

import "testing"

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in   string
		want endpoint
	}{
		{"/abs/path", endpoint{path: "/abs/path"}},
		{"./rel/path", endpoint{path: "./rel/path"}},
		{"host:path/to/dir", endpoint{host: "host", path: "path/to/dir"}},
		{"user@host:path", endpoint{host: "user@host", path: "path"}},
		{"path/with:colon/but/slash/first", endpoint{path: "path/with:colon/but/slash/first"}},
	}
	for _, c := range cases {
		got := parseEndpoint(c.in)
		if got != c.want {
			t.Errorf("parseEndpoint(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}
