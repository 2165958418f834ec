package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionDSN(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
		want string
	}{
		{
			name: "defaults",
			opt:  Option{Database: "intraday"},
			want: "postgres://localhost:5432/intraday?sslmode=disable",
		},
		{
			name: "credentials and params",
			opt: Option{
				Host:     "db",
				Port:     6432,
				User:     "trader",
				Password: "p@ss",
				Database: "intraday",
				SSLMode:  "require",
				Params:   map[string]string{"application_name": "runner", "": "skip"},
			},
			want: "postgres://trader:p%40ss@db:6432/intraday?application_name=runner&sslmode=require",
		},
		{
			name: "conn string wins",
			opt:  Option{ConnString: "postgres://x/y", Database: "ignored"},
			want: "postgres://x/y",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.opt.DSN()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := Option{}.DSN()
	assert.Error(t, err)
}
