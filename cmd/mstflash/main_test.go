package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-synmst/protocol"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"mstflash"}, args...))
	return out.String(), err
}

func writeImage(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestUpdateSimulated(t *testing.T) {
	vmm9 := append([]byte(protocol.Signature), bytes.Repeat([]byte{0xA5}, 90)...)

	tests := []struct {
		name string
		args []string
	}{
		{"vmm9", []string{"--image", writeImage(t, vmm9), "--board-id", "0x1234", "--verify-readback", "--backup"}},
		{"hid", []string{"--dialect", "hid", "--family", "cayenne", "--image", writeImage(t, []byte("mst firmware"))}},
		{"register", []string{"--dialect", "register", "--family", "tesla", "--image", writeImage(t, []byte("mst firmware"))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"update", "--simulate"}, tt.args...)...)
			require.NoError(t, err)
			assert.Contains(t, out, "writing")
			assert.Contains(t, out, "complete")
		})
	}
}

func TestUpdateRejectsInput(t *testing.T) {
	_, err := run(t, "update", "--simulate", "--image", writeImage(t, []byte("not a vmm9 image")))
	assert.ErrorIs(t, err, protocol.ErrUnsupportedDevice)

	_, err = run(t, "update", "--simulate", "--dialect", "hid", "--image", writeImage(t, []byte{1}))
	assert.ErrorContains(t, err, "--family")

	_, err = run(t, "update", "--simulate", "--dialect", "hid", "--family", "leaf", "--verify", "md5", "--image", writeImage(t, []byte{1}))
	assert.ErrorContains(t, err, "md5")
}

func TestDumpSimulated(t *testing.T) {
	out := filepath.Join(t.TempDir(), "dump.bin")
	_, err := run(t, "dump", "--simulate", "--dialect", "register", "--family", "spyder", "--out", out, "--size", "70", "--offset", "0x10")
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 70), data)
}

func TestInfo(t *testing.T) {
	path := writeImage(t, []byte("123456789"))

	out, err := run(t, "info", "--offline", "--image", path)
	require.NoError(t, err)
	assert.Contains(t, out, "0x000001DD")
	assert.Contains(t, out, "0xF4")
	assert.Contains(t, out, "0xFEE8")
	assert.Contains(t, out, "VMM9:        false")

	out, err = run(t, "info", "--simulate")
	require.NoError(t, err)
	assert.Contains(t, out, "Family:      carrera")
	assert.Contains(t, out, "Temperature: 45")
}

func TestParseHelpers(t *testing.T) {
	v, err := parseUint16("0x06CB")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x06CB), v)

	_, err = parseUint16("0x10000")
	assert.Error(t, err)

	m, err := parseVerifyMethod("crc8")
	require.NoError(t, err)
	assert.Equal(t, protocol.VerifyCRC8, m)
}
