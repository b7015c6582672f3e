package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ant4g0nist/voucher-swap/pkg/kmem/gdbremote"
)

func TestLoadConfig(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("offsets.layout", "ios12-arm64e")
	viper.Set("kmem.gdb.addr", "127.0.0.1:9999")
	viper.Set("kmem.gdb.arena", "0xffffffe0c0000000")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "ios12-arm64e", c.Offsets.Layout)
	assert.Equal(t, "gdb", c.Kmem.Backend)

	t.Setenv("KMEM_GDB_PACKET_SIZE", "512")
	g, err := c.GDBConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", g.Addr)
	assert.Equal(t, gdbremote.Hex(0xffffffe0c0000000), g.Arena)
	assert.Equal(t, 512, g.PacketSize)
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		conf    Config
		wantErr bool
	}{
		{name: "no layout", conf: Config{}, wantErr: true},
		{name: "version only", conf: Config{Offsets: offsets{Version: "12.1"}}},
		{name: "bad backend", conf: Config{Offsets: offsets{Layout: "x"}, Kmem: kmem{Backend: "usb"}}, wantErr: true},
		{name: "bad strategy", conf: Config{Offsets: offsets{Layout: "x"}, Strategy: "inplace"}, wantErr: true},
		{name: "bad arena", conf: Config{Offsets: offsets{Layout: "x"}, Kmem: kmem{GDB: gdb{Arena: "zz"}}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conf.verify()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
