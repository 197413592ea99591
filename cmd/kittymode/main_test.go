package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MrWong99/kittymode/pkg/noise"
	"github.com/MrWong99/kittymode/pkg/provider/embeddings"
)

func TestStartupAlert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "provider down while building",
			err:  fmt.Errorf("app: build index: noise: build index: %w: dial tcp: refused", embeddings.ErrUnavailable),
			want: "embedding provider is unreachable",
		},
		{
			name: "corpus missing",
			err:  fmt.Errorf("app: load corpus: %w", &noise.LoadError{Path: "noises.json", Err: errors.New("no such file")}),
			want: "Could not load the cat noise index",
		},
		{
			name: "other failure",
			err:  errors.New("control: listen: address in use"),
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := startupAlert(tt.err)
			if tt.want == "" {
				if got != "" {
					t.Errorf("startupAlert = %q, want no dialog", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("startupAlert = %q, want it to mention %q", got, tt.want)
			}
		})
	}
}
