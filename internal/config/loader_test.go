package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/kittymode/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: loud\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "tls needs both files",
			yaml:    "server:\n  listen_addr: ':7737'\n  tls:\n    cert_file: cert.pem\n",
			wantErr: []string{"server.tls"},
		},
		{
			name:    "empty provider",
			yaml:    "providers:\n  embeddings:\n    name: ''\n",
			wantErr: []string{"providers.embeddings.name"},
		},
		{
			name:    "unnamed fallback",
			yaml:    "providers:\n  embeddings_fallbacks:\n    - model: x\n",
			wantErr: []string{"embeddings_fallbacks[0].name"},
		},
		{
			name:    "no corpus",
			yaml:    "corpus:\n  path: ''\n",
			wantErr: []string{"corpus"},
		},
		{
			name:    "threshold not below window",
			yaml:    "capture:\n  window: 200ms\n  extension_threshold: 200ms\n",
			wantErr: []string{"extension threshold"},
		},
		{
			name:    "max below window",
			yaml:    "capture:\n  window: 2s\n  max_duration: 1s\n",
			wantErr: []string{"max duration"},
		},
		{
			name:    "negative delay",
			yaml:    "output:\n  typing_delay: -5ms\n",
			wantErr: []string{"output.typing_delay"},
		},
		{
			name:    "zero workers",
			yaml:    "match:\n  workers: 0\n",
			wantErr: []string{"workers"},
		},
		{
			name:    "empty hotkey",
			yaml:    "hotkey: '  '\n",
			wantErr: []string{"hotkey is required"},
		},
		{
			name:    "empty custom noise",
			yaml:    "custom_noises: ['meow', '']\n",
			wantErr: []string{"custom noise 1"},
		},
		{
			name:    "errors are joined",
			yaml:    "server:\n  log_level: loud\nmatch:\n  workers: -1\n",
			wantErr: []string{"server.log_level", "workers"},
		},
		{
			name: "unknown provider only warns",
			yaml: "providers:\n  embeddings:\n    name: my-local-model\n",
		},
		{
			name: "postgres corpus without path",
			yaml: "corpus:\n  path: ''\n  postgres_dsn: postgres://localhost/kittymode\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %v, got nil", tt.wantErr)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}
