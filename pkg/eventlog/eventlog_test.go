package eventlog

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSettings struct {
	mu     sync.Mutex
	target string
}

func (s *staticSettings) set(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = target
}

func (s *staticSettings) GetSetting(name string) (*types.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &types.Setting{Name: name, Value: s.target}, nil
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		target  string
		network string
		addr    string
		wantErr bool
	}{
		{"udp://10.0.0.1:514", "udp", "10.0.0.1:514", false},
		{"tcp://logs.example.com:601", "tcp", "logs.example.com:601", false},
		{"10.0.0.1:514", "udp", "10.0.0.1:514", false},
		{"http://10.0.0.1:514", "", "", true},
		{"10.0.0.1", "", "", true},
		{"udp://", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			network, addr, err := ParseTarget(tt.target)
			if tt.wantErr {
				assert.True(t, errors.Is(err, errdefs.ErrInvalidArgument), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.network, network)
			assert.Equal(t, tt.addr, addr)
		})
	}
}

func readPacket(t *testing.T, conn net.PacketConn) string {
	t.Helper()
	buf := make([]byte, 4096)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestForwarderSendsEventsToSyslog(t *testing.T) {
	listener, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	settings := &staticSettings{target: "udp://" + listener.LocalAddr().String()}
	f := NewForwarder(broker, settings, nil)
	f.Start()
	defer f.Stop()

	broker.Publish(&events.Event{
		Type:     events.EventVolumeFaulted,
		Message:  "Volume vol1 faulted",
		Metadata: map[string]string{"volume": "vol1"},
	})

	line := readPacket(t, listener)
	assert.Contains(t, line, "burrow")
	assert.Contains(t, line, `"type":"volume.faulted"`)
	assert.Contains(t, line, `"volume":"vol1"`)
	assert.Contains(t, line, `"level":"warn"`)
	assert.Contains(t, line, "Volume vol1 faulted")
}

type recordingConn struct {
	mu     sync.Mutex
	lines  []string
	closed bool
}

func (c *recordingConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, strings.TrimSpace(string(p)))
	return len(p), nil
}

func (c *recordingConn) Debug(m string) error   { _, err := c.Write([]byte(m)); return err }
func (c *recordingConn) Info(m string) error    { _, err := c.Write([]byte(m)); return err }
func (c *recordingConn) Warning(m string) error { _, err := c.Write([]byte(m)); return err }
func (c *recordingConn) Err(m string) error     { _, err := c.Write([]byte(m)); return err }
func (c *recordingConn) Emerg(m string) error   { _, err := c.Write([]byte(m)); return err }
func (c *recordingConn) Crit(m string) error    { _, err := c.Write([]byte(m)); return err }

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestForwarderFollowsSetting(t *testing.T) {
	conns := map[string]*recordingConn{}
	dial := func(network, addr string) (Conn, error) {
		if addr == "10.0.0.9:514" {
			return nil, errors.New("connection refused")
		}
		c := &recordingConn{}
		conns[network+"://"+addr] = c
		return c, nil
	}

	settings := &staticSettings{}
	f := NewForwarder(events.NewBroker(), settings, dial)
	event := &events.Event{Type: events.EventVolumeCreated, Message: "created", Timestamp: time.Now()}

	f.Forward(event)
	assert.Empty(t, conns, "no target, nothing dialed")

	settings.set("10.0.0.1:514")
	f.Forward(event)
	f.Forward(event)
	first := conns["udp://10.0.0.1:514"]
	require.NotNil(t, first)
	assert.Len(t, first.lines, 2)

	settings.set("tcp://10.0.0.2:601")
	f.Forward(event)
	assert.True(t, first.closed)
	second := conns["tcp://10.0.0.2:601"]
	require.NotNil(t, second)
	assert.Len(t, second.lines, 1)

	settings.set("10.0.0.9:514")
	f.Forward(event)
	assert.True(t, second.closed)

	settings.set("")
	f.Forward(event)
	assert.Len(t, conns, 2)
}
