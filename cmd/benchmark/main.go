package main

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/mqttrt/mqtt5"
	"github.com/mqttrt/mqtt5/packet"
	"golang.org/x/sync/errgroup"
)

// main drives maxConn concurrent mqtt5 clients against a local broker, each
// publishing to its own topic once a second while subscribed to "+" and
// "a/b/c". main2.go runs the same shape of load against paho.mqtt.golang so
// the two can be compared side by side.
var maxConn = 100

func main() {
	group, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < maxConn; i++ {
		i := i
		c := mqtt.New(
			mqtt.URL("mqtt://127.0.0.1:1883"),
			mqtt.ClientID(fmt.Sprintf("bench-%d", i)),
			mqtt.Subscription(
				packet.Subscription{TopicFilter: "+"},
				packet.Subscription{TopicFilter: "a/b/c"},
			),
		)
		c.OnMessage(func(msg *mqtt.Message) {
			log.Printf("id=%s, topic=%s, msg=%s", c.ID(), msg.Topic, msg.Payload)
		})

		group.Go(func() error {
			return c.Run(ctx)
		})
		group.Go(func() error {
			timer := time.NewTimer(time.Second)
			defer timer.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
					topic := fmt.Sprintf("topic-%d", i)
					if err := c.Publish(ctx, topic, []byte("hello world"), 0, false); err != nil {
						log.Printf("publish id=%s: %v", c.ID(), err)
					}
					timer.Reset(time.Second)
				}
			}
		})
	}
	if err := group.Wait(); err != nil {
		log.Printf("benchmark exiting: %v", err)
	}
}
