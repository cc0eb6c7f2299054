package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-io/mqttc"
	"github.com/golang-io/mqttc/packet"
	"golang.org/x/sync/errgroup"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: mqttc [flags] pub -t topic -m message [-q qos] [-r]
       mqttc [flags] sub -t filter [-q qos]

flags:
`)
	flag.PrintDefaults()
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	config := flag.String("config", "", "Path to TOML config file")
	url := flag.String("url", "", "Broker URL, e.g. mqtt://127.0.0.1:1883")
	id := flag.String("id", "", "Client identifier")
	version := flag.String("v", "", "Protocol version: 3, 5 or auto")
	metrics := flag.String("metrics", "", "Serve /metrics on this address")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	var opts []mqttc.Option
	if *config != "" {
		fileOpts, err := mqttc.LoadConfig(*config)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		opts = append(opts, fileOpts...)
	}
	// 命令行参数覆盖配置文件
	if *url != "" {
		opts = append(opts, mqttc.URL(*url))
	}
	if *id != "" {
		opts = append(opts, mqttc.ClientID(*id))
	}
	if *version != "" {
		v, err := mqttc.ParseVersion(*version)
		if err != nil {
			log.Fatal(err)
		}
		opts = append(opts, mqttc.Version(v))
	}

	var run func(ctx context.Context, c *mqttc.Client) error
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "pub":
		run = pub(args)
	case "sub":
		run = sub(args)
	default:
		usage()
		os.Exit(2)
	}

	if *metrics != "" {
		mqttc.Register()
	}

	group, ctx := errgroup.WithContext(context.Background())
	c := mqttc.New(opts...)

	group.Go(func() error {
		ignore := make(chan os.Signal, 1)
		sign := make(chan os.Signal, 1)

		signal.Notify(ignore, syscall.SIGHUP)
		signal.Notify(sign, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-ctx.Done():
			return nil
		case sig := <-sign:
			return fmt.Errorf("got sign: %s", sig)
		}
	})
	group.Go(func() error {
		if *metrics == "" {
			return nil
		}
		return mqttc.Httpd(ctx, *metrics)
	})
	group.Go(func() error {
		if err := c.Connect(ctx); err != nil {
			return err
		}
		log.Printf("connected: client_id=%s, version=%d, keepalive=%d", c.ID(), c.Version(), c.KeepAlive())
		defer c.Disconnect(context.Background())
		if err := run(ctx, c); err != nil {
			return err
		}
		return errDone
	})

	if err := group.Wait(); err != nil && !errors.Is(err, errDone) {
		log.Fatal(err)
	}
}

var errDone = errors.New("done")

func pub(args []string) func(ctx context.Context, c *mqttc.Client) error {
	fs := flag.NewFlagSet("pub", flag.ExitOnError)
	topic := fs.String("t", "", "Topic name")
	message := fs.String("m", "", "Message payload")
	qos := fs.Uint("q", 0, "QoS level")
	retain := fs.Bool("r", false, "Retain flag")
	fs.Parse(args)
	if *topic == "" {
		log.Fatal("pub: -t is required")
	}
	if *qos > 2 {
		log.Fatalf("pub: invalid qos %d", *qos)
	}

	return func(ctx context.Context, c *mqttc.Client) error {
		msg := &packet.Message{TopicName: *topic, Content: []byte(*message), QoS: uint8(*qos), Retain: *retain}
		if err := c.Publish(ctx, msg); err != nil {
			return err
		}
		log.Printf("published: %s", msg)
		return nil
	}
}

func sub(args []string) func(ctx context.Context, c *mqttc.Client) error {
	fs := flag.NewFlagSet("sub", flag.ExitOnError)
	filter := fs.String("t", "", "Topic filter")
	qos := fs.Uint("q", 0, "Maximum QoS")
	fs.Parse(args)
	if *filter == "" {
		log.Fatal("sub: -t is required")
	}
	if *qos > 2 {
		log.Fatalf("sub: invalid qos %d", *qos)
	}

	return func(ctx context.Context, c *mqttc.Client) error {
		sub := packet.Subscription{TopicFilter: *filter, MaximumQoS: uint8(*qos)}
		err := c.Subscribe(ctx, sub, func(msg *packet.Message) {
			fmt.Printf("%s\n", msg)
		})
		if err != nil {
			return err
		}
		log.Printf("subscribed: filter=%s, qos=%d", *filter, *qos)

		// 等待信号或连接断开
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if c.State() != mqttc.StateConnected {
					return fmt.Errorf("connection lost: %w", c.Err())
				}
			}
		}
	}
}
