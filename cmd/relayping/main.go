package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/whookdev/sharedrelay/internal/client"
	"github.com/whookdev/sharedrelay/internal/models"
)

func main() {
	relayURL := flag.String("relay", "ws://localhost:3001/relay", "relay websocket endpoint")
	target := flag.String("url", "https://httpbin.org/json", "url the relay should fetch")
	method := flag.String("method", "GET", "http method")
	body := flag.String("body", "", "json request body")
	timeout := flag.Duration("timeout", 10*time.Second, "how long to wait for the response")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c, err := client.Dial(ctx, *relayURL, nil)
	if err != nil {
		log.Fatalln(err)
	}
	defer c.Close()

	opts := models.FetchOptions{URL: *target, Method: *method}
	if *body != "" {
		var b models.Body
		if err := json.Unmarshal([]byte(*body), &b); err != nil {
			log.Fatalf("Invalid body: %s", err)
		}
		if b.Kind == models.BodyInvalid {
			log.Fatalf("Invalid body: %s", b.Err)
		}
		opts.Body = &b
	}

	start := time.Now()
	env, err := c.Do(ctx, opts)
	if err != nil {
		log.Fatalln(err)
	}
	log.Printf("Relay round trip took: %v\n", time.Since(start))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(env)

	if env.Failed() {
		os.Exit(1)
	}
}
