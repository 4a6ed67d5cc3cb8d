package eventlog

import (
	"log/syslog"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Settings reads the syslogTarget setting
type Settings interface {
	GetSetting(name string) (*types.Setting, error)
}

// Conn is an open syslog endpoint
type Conn interface {
	zerolog.SyslogWriter
	Close() error
}

// DialFunc opens a syslog endpoint
type DialFunc func(network, addr string) (Conn, error)

// Dial connects to a remote syslog daemon
func Dial(network, addr string) (Conn, error) {
	return syslog.Dial(network, addr, syslog.LOG_INFO|syslog.LOG_DAEMON, "burrow")
}

// ParseTarget splits a syslogTarget value into a network and an address.
// Accepted forms are udp://host:port, tcp://host:port and host:port, which
// means UDP.
func ParseTarget(target string) (string, string, error) {
	network, addr := "udp", target
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", "", errdefs.NewInvalidArgumentError("invalid syslog target %q: %v", target, err)
		}
		network, addr = u.Scheme, u.Host
	}

	if network != "udp" && network != "tcp" {
		return "", "", errdefs.NewInvalidArgumentError("unsupported syslog protocol %q in %q", network, target)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return "", "", errdefs.NewInvalidArgumentError("invalid syslog address %q: %v", addr, err)
	}
	return network, addr, nil
}

// Forwarder writes every cluster event as a JSON line to the syslog
// endpoint named by the syslogTarget setting. The setting is read for each
// event, so changing it takes effect with the next event.
type Forwarder struct {
	broker   *events.Broker
	settings Settings
	dial     DialFunc

	mu     sync.Mutex
	target string
	conn   Conn
	out    zerolog.Logger

	sub    events.Subscriber
	doneCh chan struct{}
	logger zerolog.Logger
}

// NewForwarder creates a forwarder for the events of broker
func NewForwarder(broker *events.Broker, settings Settings, dial DialFunc) *Forwarder {
	if dial == nil {
		dial = Dial
	}
	return &Forwarder{
		broker:   broker,
		settings: settings,
		dial:     dial,
		out:      zerolog.Nop(),
		doneCh:   make(chan struct{}),
		logger:   log.WithComponent("eventlog"),
	}
}

// Start subscribes to the broker
func (f *Forwarder) Start() {
	f.sub = f.broker.Subscribe()
	go f.run(f.sub)
}

// Stop unsubscribes and closes the syslog connection
func (f *Forwarder) Stop() {
	f.broker.Unsubscribe(f.sub)
	<-f.doneCh

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeConn()
}

func (f *Forwarder) run(sub events.Subscriber) {
	defer close(f.doneCh)
	for event := range sub {
		f.Forward(event)
	}
}

// Forward writes one event to the current syslog target, if any
func (f *Forwarder) Forward(event *events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.refresh(); err != nil {
		f.logger.Warn().Err(err).Str("target", f.target).Msg("Syslog target unavailable")
		return
	}
	if f.conn == nil {
		return
	}

	entry := f.out.WithLevel(level(event.Type)).
		Str("type", string(event.Type)).
		Time("time", event.Timestamp)
	if event.ID != "" {
		entry = entry.Str("id", event.ID)
	}
	for k, v := range event.Metadata {
		entry = entry.Str(k, v)
	}
	entry.Msg(event.Message)
}

// refresh reconnects when the syslogTarget setting changed. Callers hold mu.
func (f *Forwarder) refresh() error {
	setting, err := f.settings.GetSetting(types.SettingSyslogTarget)
	if err != nil {
		return errors.Wrap(err, "failed to read syslog target")
	}
	target := strings.TrimSpace(setting.Value)
	if target == f.target && (f.conn != nil || target == "") {
		return nil
	}

	f.closeConn()
	f.target = target
	if target == "" {
		f.logger.Info().Msg("Event forwarding disabled")
		return nil
	}

	network, addr, err := ParseTarget(target)
	if err != nil {
		return err
	}
	conn, err := f.dial(network, addr)
	if err != nil {
		return errors.Wrapf(err, "failed to dial syslog %s://%s", network, addr)
	}

	f.conn = conn
	f.out = zerolog.New(zerolog.SyslogLevelWriter(conn)).With().Str("component", "events").Logger()
	f.logger.Info().Str("target", target).Msg("Forwarding events to syslog")
	return nil
}

func (f *Forwarder) closeConn() {
	if f.conn != nil {
		if err := f.conn.Close(); err != nil {
			f.logger.Debug().Err(err).Msg("Failed to close syslog connection")
		}
	}
	f.conn = nil
	f.out = zerolog.Nop()
}

func level(typ events.EventType) zerolog.Level {
	switch typ {
	case events.EventHostDown, events.EventVolumeFaulted, events.EventBackupFailed:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
