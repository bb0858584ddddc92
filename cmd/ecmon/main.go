package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/robotalks/ec.go/pkg/transport"
	"github.com/robotalks/ec.go/pkg/transport/mqtt"
)

var (
	mqttURL = "mqtt://localhost:1883/ec/"
)

func init() {
	if val := os.Getenv("EC_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	if token := q.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalln(token.Error())
	}

	q.Sub("#", mqtt.Handler(func(topic string, payload []byte) {
		if strings.HasSuffix(topic, "/"+mqtt.MetaTopic) {
			if len(payload) == 0 {
				log.Printf("%s: gone", topic)
				return
			}
			log.Printf("%s: %s", topic, string(payload))
			return
		}
		env, err := transport.DecodeEnvelope(payload)
		if err != nil {
			log.Printf("%s: bad envelope: %v", topic, err)
			return
		}
		log.Printf("%s: port=%d seq=%d % x", topic, env.Port, env.Seq, env.Data)
	}))
	<-(chan struct{})(nil)
}
