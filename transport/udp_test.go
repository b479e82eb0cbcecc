package transport

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPRoundTripAndDeadlines(t *testing.T) {
	server, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := DialUDP(server.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	buf := make([]byte, 64)
	_, _, err = ReadFrom(server, buf, time.Now().Add(20*time.Millisecond))
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.False(t, IsClosed(err))

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	n, from, err := ReadFrom(server, buf, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	_, err = server.WriteTo([]byte("pong"), from)
	require.NoError(t, err)
	n, err = Read(client, buf, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))

	client.Close()
	_, err = Read(client, buf, time.Now().Add(time.Second))
	require.Error(t, err)
	assert.True(t, IsClosed(err))
}

func TestListenUDPFailure(t *testing.T) {
	_, err := ListenUDP("127.0.0.1:99999")
	assert.Error(t, err)
	_, err = DialUDP("not a host:port:at all")
	assert.Error(t, err)
}

func TestIsClosedWrapped(t *testing.T) {
	assert.True(t, IsClosed(fmt.Errorf("send: %w", ErrClosed)))
	assert.False(t, IsTimeout(ErrClosed))
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestClockOrDefault(t *testing.T) {
	fixed := fixedClock{time.Unix(42, 0)}
	assert.Equal(t, fixed, ClockOrDefault(fixed))
	assert.IsType(t, RealTimeProvider{}, ClockOrDefault(nil))
	assert.WithinDuration(t, time.Now(), ClockOrDefault(nil).Now(), time.Second)
}
