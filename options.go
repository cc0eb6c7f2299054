package mqttc

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/golang-io/mqttc/packet"
	"github.com/golang-io/requests"
)

// VersionAuto tries MQTT v5.0 first and falls back to v3.1.1 when the server refuses it.
const VersionAuto byte = 0

const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultKeepAlive      = 60
)

type Options struct {
	URL      string
	ClientID string
	Version  byte

	Username string
	Password string

	CleanStart    bool
	KeepAlive     uint16 // seconds, 0 disables keepalive
	SessionExpiry uint32 // v5 Session Expiry Interval, seconds
	Will          *packet.Will

	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	TLSConfig *tls.Config
	Proxy     string // socks5://[user:pass@]host:port

	// DialContext replaces the built-in dialers for every scheme.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

type Option func(*Options)

func newOptions(opts ...Option) Options {
	options := Options{
		URL:            "mqtt://127.0.0.1:1883",
		ClientID:       "mqttc-" + requests.GenId(),
		Version:        VersionAuto,
		CleanStart:     true,
		KeepAlive:      DefaultKeepAlive,
		ConnectTimeout: DefaultConnectTimeout,
		RequestTimeout: DefaultRequestTimeout,
	}
	for _, o := range opts {
		o(&options)
	}
	return options
}

func URL(url string) Option {
	return func(o *Options) {
		o.URL = url
	}
}

func ClientID(id string) Option {
	return func(o *Options) {
		o.ClientID = id
	}
}

// Version accepts packet.VERSION311, packet.VERSION500, VersionAuto or
// one of "3.1.1", "5.0.0", "3", "5", "auto". An unknown string panics;
// use ParseVersion for untrusted input.
func Version[T ~string | ~byte](version T) Option {
	return func(o *Options) {
		switch v := any(version).(type) {
		case byte:
			o.Version = v
		case string:
			parsed, err := ParseVersion(v)
			if err != nil {
				panic(err)
			}
			o.Version = parsed
		}
	}
}

// ParseVersion maps a version string to its protocol level. "" means VersionAuto.
func ParseVersion(version string) (byte, error) {
	switch version {
	case "5.0.0", "5.0", "5":
		return packet.VERSION500, nil
	case "3.1.1", "3":
		return packet.VERSION311, nil
	case "auto", "":
		return VersionAuto, nil
	}
	return 0, fmt.Errorf("mqttc: version = %s not support", version)
}

func Credentials(username, password string) Option {
	return func(o *Options) {
		o.Username, o.Password = username, password
	}
}

func CleanStart(clean bool) Option {
	return func(o *Options) {
		o.CleanStart = clean
	}
}

func KeepAlive(seconds uint16) Option {
	return func(o *Options) {
		o.KeepAlive = seconds
	}
}

func SessionExpiry(seconds uint32) Option {
	return func(o *Options) {
		o.SessionExpiry = seconds
	}
}

func Will(will *packet.Will) Option {
	return func(o *Options) {
		o.Will = will
	}
}

func ConnectTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ConnectTimeout = d
	}
}

func RequestTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.RequestTimeout = d
	}
}

func TLSConfig(cfg *tls.Config) Option {
	return func(o *Options) {
		o.TLSConfig = cfg
	}
}

func Proxy(url string) Option {
	return func(o *Options) {
		o.Proxy = url
	}
}

func DialContext(fn func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(o *Options) {
		o.DialContext = fn
	}
}
