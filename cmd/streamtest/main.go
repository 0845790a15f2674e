// Package main provides a load tool for the live notification stream.
package main

import (
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"outpost/internal/config"
	"outpost/internal/middleware"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

// Metrics tracks the test results
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	Refused              int64
	MessagesReceived     int64
	Errors               int64
}

var metrics Metrics

func main() {
	host := flag.String("host", "localhost:8080", "Node host")
	secure := flag.Bool("tls", false, "Dial wss:// instead of ws://")
	firstUser := flag.Uint("user", 1, "First local user ID to connect as")
	users := flag.Uint("users", 1, "Number of distinct users to spread clients over")
	clients := flag.Int("clients", 20, "Number of concurrent clients")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("🚀 Starting notification stream test")
	log.Printf("Target: %s", *host)
	log.Printf("Clients: %d over %d users", *clients, *users)
	log.Printf("Duration: %v", *duration)

	scheme := "ws"
	if *secure {
		scheme = "wss"
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stopChan := make(chan struct{})

	for i := 0; i < *clients; i++ {
		userID := *firstUser + uint(i)%max(*users, 1)
		token, err := middleware.IssueToken(cfg.JWTSecret, userID, middleware.RoleUser, *duration+time.Minute)
		if err != nil {
			log.Fatalf("❌ Failed to sign token: %v", err)
		}
		u := url.URL{Scheme: scheme, Host: *host, Path: "/api/v1/notifications/stream", RawQuery: "token=" + url.QueryEscape(token)}

		wg.Add(1)
		go runClient(u.String(), stopChan, &wg)
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-time.After(*duration):
		log.Println("⏱️  Test duration reached")
	case <-interrupt:
		log.Println("🛑 Interrupted by user")
	}

	close(stopChan)
	log.Println("Waiting for clients to disconnect...")
	wg.Wait()

	printMetrics()
}

func runClient(target string, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	c, resp, err := websocket.DefaultDialer.Dial(target, nil)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}
	defer func() { _ = c.Close() }()

	atomic.AddInt64(&metrics.ConnectionsSuccess, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			// The hub sends a bare error object before closing a refused client.
			if jsoniter.Get(data, "error").ValueType() == jsoniter.StringValue {
				atomic.AddInt64(&metrics.Refused, 1)
				return
			}
			atomic.AddInt64(&metrics.MessagesReceived, 1)
		}
	}()

	select {
	case <-stopChan:
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-done:
	}
}

func printMetrics() {
	log.Println("\n📊 Test Results")
	log.Println("===============")
	log.Printf("Connections Attempted: %d", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	log.Printf("Connections Successful: %d", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	log.Printf("Connections Failed: %d", atomic.LoadInt64(&metrics.ConnectionsFailed))
	log.Printf("Connections Refused: %d", atomic.LoadInt64(&metrics.Refused))
	log.Printf("Messages Received: %d", atomic.LoadInt64(&metrics.MessagesReceived))
	log.Printf("Total Errors: %d", atomic.LoadInt64(&metrics.Errors))
}
