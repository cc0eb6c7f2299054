package mqttc

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang-io/mqttc/packet"
)

type fileConfig struct {
	URL            string `toml:"url"`
	ClientID       string `toml:"client_id"`
	Version        string `toml:"version"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	CleanStart     bool   `toml:"clean_start"`
	KeepAlive      int64  `toml:"keepalive"`
	SessionExpiry  int64  `toml:"session_expiry"`
	ConnectTimeout string `toml:"connect_timeout"`
	RequestTimeout string `toml:"request_timeout"`
	Proxy          string `toml:"proxy"`

	TLS struct {
		CAFile             string `toml:"ca_file"`
		CertFile           string `toml:"cert_file"`
		KeyFile            string `toml:"key_file"`
		InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	} `toml:"tls"`

	Will struct {
		Topic   string `toml:"topic"`
		Message string `toml:"message"`
		QoS     int64  `toml:"qos"`
		Retain  bool   `toml:"retain"`
	} `toml:"will"`
}

// LoadConfig reads a TOML file and returns the options for the keys it defines.
// Keys that are absent leave the client defaults untouched.
func LoadConfig(path string) ([]Option, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load mqttc config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("load mqttc config: unknown keys %v", undecoded)
	}

	var opts []Option
	if meta.IsDefined("url") {
		opts = append(opts, URL(strings.TrimSpace(raw.URL)))
	}
	if meta.IsDefined("client_id") {
		opts = append(opts, ClientID(strings.TrimSpace(raw.ClientID)))
	}
	if meta.IsDefined("version") {
		v, err := ParseVersion(strings.TrimSpace(raw.Version))
		if err != nil {
			return nil, fmt.Errorf("parse version: %w", err)
		}
		opts = append(opts, Version(v))
	}
	if meta.IsDefined("username") || meta.IsDefined("password") {
		opts = append(opts, Credentials(raw.Username, raw.Password))
	}
	if meta.IsDefined("clean_start") {
		opts = append(opts, CleanStart(raw.CleanStart))
	}
	if meta.IsDefined("keepalive") {
		if raw.KeepAlive < 0 || raw.KeepAlive > 0xFFFF {
			return nil, fmt.Errorf("parse keepalive: %d out of range", raw.KeepAlive)
		}
		opts = append(opts, KeepAlive(uint16(raw.KeepAlive)))
	}
	if meta.IsDefined("session_expiry") {
		if raw.SessionExpiry < 0 || raw.SessionExpiry > 0xFFFFFFFF {
			return nil, fmt.Errorf("parse session_expiry: %d out of range", raw.SessionExpiry)
		}
		opts = append(opts, SessionExpiry(uint32(raw.SessionExpiry)))
	}
	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return nil, fmt.Errorf("parse connect_timeout: %w", err)
		}
		opts = append(opts, ConnectTimeout(d))
	}
	if meta.IsDefined("request_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RequestTimeout))
		if err != nil {
			return nil, fmt.Errorf("parse request_timeout: %w", err)
		}
		opts = append(opts, RequestTimeout(d))
	}
	if meta.IsDefined("proxy") {
		opts = append(opts, Proxy(strings.TrimSpace(raw.Proxy)))
	}
	if meta.IsDefined("tls") {
		cfg, err := loadTLS(raw.TLS.CAFile, raw.TLS.CertFile, raw.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
		opts = append(opts, TLSConfig(cfg))
	}
	if meta.IsDefined("will", "topic") {
		if raw.Will.QoS < 0 || raw.Will.QoS > 2 {
			return nil, fmt.Errorf("parse will.qos: %d out of range", raw.Will.QoS)
		}
		opts = append(opts, Will(&packet.Will{
			TopicName: strings.TrimSpace(raw.Will.Topic),
			Message:   []byte(raw.Will.Message),
			QoS:       uint8(raw.Will.QoS),
			Retain:    raw.Will.Retain,
		}))
	}
	return opts, nil
}

func loadTLS(caFile, certFile, keyFile string) (*tls.Config, error) {
	cfg := &tls.Config{}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read tls.ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("parse tls.ca_file: no certificates found")
		}
		cfg.RootCAs = pool
	}
	if certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load tls key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
