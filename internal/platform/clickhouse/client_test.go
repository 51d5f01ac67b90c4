package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "native protocol with timeouts",
			cfg: Config{
				Host: "ch", Port: 9000, Database: "market", User: "ingest", Password: "p@ss",
				DialTimeout: 5 * time.Second, ReadTimeout: 10 * time.Second,
			},
			want: "clickhouse://ingest:p%40ss@ch:9000/market?dial_timeout=5s&read_timeout=10s",
		},
		{
			name: "http protocol without timeouts",
			cfg:  Config{Host: "localhost", Port: 8123, Database: "default", User: "default", UseHTTP: true},
			want: "http://default:@localhost:8123/default",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, BuildDSN(tt.cfg))
		})
	}
}

func TestOpen_RequiresHost(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}
