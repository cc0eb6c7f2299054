package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang-io/mqttc"
	"github.com/golang-io/mqttc/packet"
	"github.com/golang-io/requests"
	"golang.org/x/sync/errgroup"
)

var (
	server  = flag.String("url", "tcp://127.0.0.1:1883", "Broker URL")
	total   = flag.Int("n", 10000, "Messages per client")
	clients = flag.Int("c", 1, "Concurrent clients")
	qos     = flag.Uint("q", 0, "QoS level")
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	flag.Parse()
	if *qos > 2 {
		log.Fatalf("invalid qos: %d", *qos)
	}

	for _, b := range []struct {
		name string
		run  func(ctx context.Context, i int) error
	}{
		{"mqttc", mqttcStart},
		{"paho", pahoMqttStart},
	} {
		group, ctx := errgroup.WithContext(context.Background())
		start := time.Now()
		for i := 0; i < *clients; i++ {
			group.Go(func() error { return b.run(ctx, i) })
		}
		if err := group.Wait(); err != nil {
			log.Fatalf("%s: %v", b.name, err)
		}
		elapsed := time.Since(start)
		n := *total * *clients
		fmt.Printf("%-6s messages=%d, elapsed=%s, rate=%.0f msg/s\n", b.name, n, elapsed, float64(n)/elapsed.Seconds())
	}
}

func mqttcStart(ctx context.Context, i int) error {
	c := mqttc.New(mqttc.URL(*server), mqttc.ClientID("mqttc-"+requests.GenId()), mqttc.Version(packet.VERSION311))
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect(context.Background())

	topic := fmt.Sprintf("benchmark/mqttc/%02d", i)
	for j := 0; j < *total; j++ {
		msg := &packet.Message{TopicName: topic, Content: []byte("hello world"), QoS: uint8(*qos)}
		if err := c.Publish(ctx, msg); err != nil {
			return err
		}
	}
	// 往返一次, 确保之前的报文已经被服务端处理
	return c.Ping(ctx)
}

func pahoMqttStart(_ context.Context, i int) error {
	connOpts := paho_mqtt.NewClientOptions().AddBroker(*server).SetClientID("paho-" + requests.GenId()).SetCleanSession(true)
	connOpts.SetAutoReconnect(false)

	client := paho_mqtt.NewClient(connOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)

	topic := fmt.Sprintf("benchmark/paho/%02d", i)
	for j := 0; j < *total; j++ {
		if t := client.Publish(topic, byte(*qos), false, "hello world"); t.Wait() && t.Error() != nil {
			return t.Error()
		}
	}
	return nil
}
