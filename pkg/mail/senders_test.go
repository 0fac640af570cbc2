package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/smtp-relay/pkg/relayconfig"
	"github.com/telekom/smtp-relay/pkg/transcript"
)

func TestLogSender(t *testing.T) {
	s := NewLogSender(zaptest.NewLogger(t).Sugar())
	assert.Equal(t, "log", s.Name())
	assert.NoError(t, s.Send(context.Background(), compose(testMessage(), "a@example.com", "A")))
}

func TestMTASenderDefaults(t *testing.T) {
	s := NewMTASender("", 0, false)
	assert.Equal(t, "mta", s.Name())
	assert.Equal(t, "localhost", s.dialer.Host)
	assert.Equal(t, 25, s.dialer.Port)
	assert.Nil(t, s.dialer.TLSConfig)

	insecure := NewMTASender("mx.internal", 2525, true)
	require.NotNil(t, insecure.dialer.TLSConfig)
	assert.True(t, insecure.dialer.TLSConfig.InsecureSkipVerify)
}

func TestMTASenderDelivers(t *testing.T) {
	be := &testBackend{}
	srv := startTestServer(t, be, modePlain)
	d := newTestDispatcher(t, NewMTASender(srv.host, srv.port, false), "")

	res := d.Send(context.Background(), testMessage(), relayconfig.Defaults(testIdentity), transcript.New())
	require.True(t, res.OK, res.ErrorMessage)
	assert.False(t, res.Relayed)

	received := be.received()
	require.Len(t, received, 1)
	assert.Equal(t, testIdentity.Address, received[0].From)
	assert.Equal(t, []string{"user@example.org"}, received[0].Recipients)
}
