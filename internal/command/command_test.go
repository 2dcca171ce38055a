package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flitsinc/go-backlog/internal/backlog"
)

func TestEncodeDecode(t *testing.T) {
	cases := []Command{
		{ActivityID: "0190f3a2-7c1e-7abc-8def-0123456789ab", Target: backlog.StatusInProgress},
		{ActivityID: "1712345678901_k3j2h1a", Target: backlog.StatusCompleted},
		{ActivityID: "weird_id_open", Target: backlog.StatusOpen},
	}
	for _, c := range cases {
		got, err := Decode(Encode(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
}

func TestDecodeLegacyIdentifiers(t *testing.T) {
	got, err := Decode("backlog_1712345678901_k3j2h1a_in_progress")
	require.NoError(t, err)
	assert.Equal(t, Command{ActivityID: "1712345678901_k3j2h1a", Target: backlog.StatusInProgress}, got)
}

func TestDecodeRejects(t *testing.T) {
	for _, id := range []string{"", "backlog_bug_modal", "other_a1_open", "backlog__open", "backlog_a1_archived"} {
		_, err := Decode(id)
		assert.ErrorIs(t, err, ErrUnrecognized, id)
	}
}
