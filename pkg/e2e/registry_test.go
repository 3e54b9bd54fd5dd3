package e2e

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	p := NewReferenceProfile()

	require.NoError(t, r.Register(p))

	got, err := r.LookupByID(ReferenceProfileID)
	require.NoError(t, err)
	assert.Same(t, p, got)

	got, err = r.LookupByName(ReferenceProfileName)
	require.NoError(t, err)
	assert.Same(t, p, got)
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewReferenceProfile()))

	err := r.Register(NewReferenceProfile())
	assert.ErrorIs(t, err, ErrDuplicateProfile)
}

func TestRegistryLookupMissingFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.LookupByID(0x42)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = r.LookupByName("nope")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestDefaultReturnsReferenceProfile(t *testing.T) {
	p := Default()
	assert.Equal(t, ReferenceProfileID, p.ID())
	assert.Equal(t, ReferenceProfileName, p.Name())
}
