package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/mqttrt/mqtt5"
	"github.com/mqttrt/mqtt5/packet"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	c := mqtt.New(
		mqtt.URL("mqtt://127.0.0.1:1883"),
		mqtt.ClientID("mqtt-client-demo"),
		mqtt.Subscription(
			packet.Subscription{TopicFilter: "+"},
			packet.Subscription{TopicFilter: "a/b/c"},
		),
	)
	c.OnMessage(func(msg *mqtt.Message) {
		log.Printf("on: topic=%s payload=%s", msg.Topic, msg.Payload)
		msg.Ack()
	})
	c.OnConnect(func(ev mqtt.ConnectEvent) {
		log.Printf("connected, session_present=%v", ev.SessionPresent)
	})
	c.OnDisconnect(func(ev mqtt.DisconnectEvent) {
		log.Printf("disconnected: %s (%v)", ev.ReasonCode, ev.Err)
	})

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return c.Run(gctx)
	})
	group.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				payload := []byte(time.Now().Format("2006-01-02 15:04:05"))
				if err := c.Publish(gctx, "12345", payload, 0, false); err != nil {
					log.Printf("publish: %v", err)
				}
			}
		}
	})
	group.Go(func() error {
		defer cancel()
		sign := make(chan os.Signal, 1)
		signal.Notify(sign, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-gctx.Done():
			return gctx.Err()
		case sig := <-sign:
			log.Printf("got signal: %s", sig)
			return c.Close()
		}
	})

	if err := group.Wait(); err != nil {
		log.Printf("exiting: %v", err)
	}
}
