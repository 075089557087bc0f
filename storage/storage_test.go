package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusvoice/aiaclient/alert"
	"github.com/nimbusvoice/aiaclient/secretmgr"
	"github.com/nimbusvoice/aiaclient/wire"
)

func TestRegistrationRoundTrip(t *testing.T) {
	s := New(t.TempDir())

	_, ok, err := s.LoadTopicRoot()
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = s.LoadSecret()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.StoreRegistration([]byte("secret-a"), "aia/device-1"))

	root, ok, err := s.LoadTopicRoot()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "aia/device-1", root)

	secret, ok, err := s.LoadSecret()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("secret-a"), secret)
}

func TestSecretsRoundTrip(t *testing.T) {
	s := New(t.TempDir())

	records := []*secretmgr.SecretRecord{
		{
			Secret: []byte("secret-a"),
			StartingSequenceNumber: map[wire.Topic]uint32{
				wire.Directive: 0,
				wire.Speaker:   0,
			},
		},
		{
			Secret: []byte("secret-b"),
			StartingSequenceNumber: map[wire.Topic]uint32{
				wire.Directive: 10,
				wire.Speaker:   20,
			},
		},
	}
	require.NoError(t, s.StoreSecrets(records))

	loaded, err := s.LoadSecrets()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, []byte("secret-b"), loaded[1].Secret)
	require.Equal(t, uint32(20), loaded[1].StartingSequenceNumber[wire.Speaker])
}

func TestAlertsRoundTrip(t *testing.T) {
	s := New(t.TempDir())

	require.NoError(t, s.StoreAlerts([]alert.Token{"a", "b"}))
	loaded, err := s.LoadAlerts()
	require.NoError(t, err)
	require.ElementsMatch(t, []alert.Token{"a", "b"}, loaded)
}

func TestStoreOverwritesAtomically(t *testing.T) {
	s := New(t.TempDir())

	require.NoError(t, s.StoreVolume(3))
	require.NoError(t, s.StoreVolume(7))

	level, ok, err := s.LoadVolume()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 7, level)
}
