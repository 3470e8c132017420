// Package tester measures reachability of stored profiles and verifies a
// live session end to end through the engine's SOCKS listener.
package tester

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

type Tester struct {
	Timeout time.Duration
	Workers int
}

func New(timeout time.Duration, workers int) *Tester {
	if workers <= 0 {
		workers = 10
	}
	return &Tester{Timeout: timeout, Workers: workers}
}

// Ping measures the TCP connect time to host:port. This is reachability
// of the server's front door, not a full protocol handshake.
func (t *Tester) Ping(host string, port int) (time.Duration, error) {
	addr := net.JoinHostPort(host, fmt.Sprint(port))
	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr, t.Timeout)
	if err != nil {
		return 0, err
	}
	conn.Close()
	return time.Since(start), nil
}

// Target identifies one endpoint to ping; Key is echoed back in the
// result so callers can correlate.
type Target struct {
	Key  uint
	Host string
	Port int
}

type Result struct {
	Key     uint
	Latency time.Duration
	Err     error
}

// PingAll measures every target with a bounded worker pool and streams
// each result to onResult from a single goroutine.
func (t *Tester) PingAll(ctx context.Context, targets []Target, onResult func(Result)) {
	jobs := make(chan Target)
	results := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < t.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tg := range jobs {
				lat, err := t.Ping(tg.Host, tg.Port)
				select {
				case results <- Result{Key: tg.Key, Latency: lat, Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, tg := range targets {
			select {
			case jobs <- tg:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		onResult(res)
	}
}

// VerifyThroughProxy dials target through the engine's SOCKS listener.
// Success means the whole chain works: local listener, engine handshake,
// upstream dial.
func (t *Tester) VerifyThroughProxy(socksAddr, target string) error {
	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, &net.Dialer{Timeout: t.Timeout})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.Timeout)
	defer cancel()

	conn, err := dialer.(proxy.ContextDialer).DialContext(ctx, "tcp", target)
	if err != nil {
		return fmt.Errorf("socks dial via %s: %w", socksAddr, err)
	}
	conn.Close()
	return nil
}
