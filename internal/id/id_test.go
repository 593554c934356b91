package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceIdValid(t *testing.T) {
	d, err := ParseDeviceId("htpc2")
	require.NoError(t, err)
	assert.Equal(t, "htpc2", d.String())
}

func TestParseDeviceIdRejectsEmpty(t *testing.T) {
	_, err := ParseDeviceId("")
	assert.ErrorIs(t, err, ErrInvalidDeviceId)
}

func TestParseDeviceIdRejectsNonAlphanumeric(t *testing.T) {
	cases := []string{"htpc-1", "htpc.lan", "htpc 1", "htpc/1", "café"}
	for _, c := range cases {
		_, err := ParseDeviceId(c)
		assert.ErrorIsf(t, err, ErrInvalidDeviceId, "input %q should be rejected", c)
	}
}

func TestTargetIdString(t *testing.T) {
	assert.Equal(t, "ubuntu", TargetId("ubuntu").String())
}
