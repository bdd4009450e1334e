package shm_test

import (
	"testing"

	"github.com/hepp3n/luxo/shm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestCreateMap(t *testing.T) {
	file, err := shm.Create("test", 4096)
	require.NoError(t, err)
	defer file.Close()

	a, err := shm.Map(file, 0, 4096, unix.PROT_READ|unix.PROT_WRITE)
	require.NoError(t, err)
	defer a.Unmap()

	b, err := shm.Map(file, 0, 4096, unix.PROT_READ)
	require.NoError(t, err)
	defer b.Unmap()

	a[100] = 0x5a
	assert.Equal(t, byte(0x5a), b[100])
}
