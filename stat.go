package mqttc

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/golang-io/requests"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Stat struct {
	Uptime            prometheus.Counter
	ActiveConnections prometheus.Gauge
	ConnectAttempts   prometheus.Counter
	ConnectFailures   prometheus.Counter
	LoopFailures      prometheus.Counter
	Pending           prometheus.Gauge
	PacketReceived    prometheus.Counter
	ByteReceived      prometheus.Counter
	PacketSent        prometheus.Counter
	ByteSent          prometheus.Counter
	MessageReceived   prometheus.Counter
	EventsDropped     prometheus.Counter
}

var (
	stat = Stat{
		Uptime:            prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttc_uptime_seconds", Help: "The uptime in seconds"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqttc_active_connections", Help: "The number of connected clients"}),
		ConnectAttempts:   prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttc_connect_attempts", Help: "The total number of CONNECT handshakes started"}),
		ConnectFailures:   prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttc_connect_failures", Help: "The total number of failed handshakes"}),
		LoopFailures:      prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttc_dispatch_failures", Help: "The total number of dispatch loops ended by an error"}),
		Pending:           prometheus.NewGauge(prometheus.GaugeOpts{Name: "mqttc_pending_requests", Help: "The number of requests awaiting an acknowledgment"}),
		PacketReceived:    prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttc_received_packets", Help: "The total number of received MQTT packets"}),
		ByteReceived:      prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttc_received_bytes", Help: "The total number of received MQTT bytes"}),
		PacketSent:        prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttc_send_packets", Help: "The total number of send MQTT packets"}),
		ByteSent:          prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttc_send_bytes", Help: "The total number of send MQTT bytes"}),
		MessageReceived:   prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttc_received_messages", Help: "The total number of delivered application messages"}),
		EventsDropped:     prometheus.NewCounter(prometheus.CounterOpts{Name: "mqttc_bridge_events_dropped", Help: "The total number of bridge events dropped on a full channel"}),
	}
	registerOnce sync.Once
)

func ServerLog(ctx context.Context, stat *requests.Stat) {
	b, err := json.Marshal(stat.Request.Body)
	log.Printf("%s # body=%s, resp=%v, err=%v", stat.Print(), b, stat.Response.Body, err)
}

// Httpd serves /metrics and pprof on addr until ctx is done.
func Httpd(ctx context.Context, addr string) error {
	stat.Register()
	go stat.RefreshUptime(ctx)
	mux := requests.NewServeMux(requests.URL(addr), requests.Logf(ServerLog))
	mux.Route("/metrics", promhttp.Handler())
	mux.Pprof()
	s := requests.NewServer(ctx, mux, requests.OnStart(func(s *http.Server) {
		log.Printf("http serve: %s", s.Addr)
	}))
	return s.ListenAndServe()
}

func (s *Stat) RefreshUptime(ctx context.Context) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.Uptime.Inc()
		}
	}
}

// Register adds the client collectors to the default prometheus registry, once.
func (s *Stat) Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(s.Uptime)
		prometheus.MustRegister(s.ActiveConnections)
		prometheus.MustRegister(s.ConnectAttempts)
		prometheus.MustRegister(s.ConnectFailures)
		prometheus.MustRegister(s.LoopFailures)
		prometheus.MustRegister(s.Pending)
		prometheus.MustRegister(s.PacketReceived)
		prometheus.MustRegister(s.ByteReceived)
		prometheus.MustRegister(s.PacketSent)
		prometheus.MustRegister(s.ByteSent)
		prometheus.MustRegister(s.MessageReceived)
		prometheus.MustRegister(s.EventsDropped)
	})
}

// Register exposes the package collectors on the default registry.
func Register() {
	stat.Register()
}

// statReader counts bytes read from the transport.
type statReader struct {
	r io.Reader
}

func (s statReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	stat.ByteReceived.Add(float64(n))
	return n, err
}

// statWriter counts bytes and packets written to the transport.
// Every packet is packed with a single Write call.
type statWriter struct {
	w io.Writer
}

func (s statWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	stat.ByteSent.Add(float64(n))
	if err == nil {
		stat.PacketSent.Inc()
	}
	return n, err
}
