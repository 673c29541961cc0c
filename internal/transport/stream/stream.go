// Package stream keeps a websocket connection to the platform's user stream
// and hands every received frame to the caller.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	logx "tweetfeeder/pkg/logx"
)

var ErrNoHosts = errors.New("stream: no hosts configured")

var (
	connAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tweetfeeder_stream_connection_attempts_total",
		Help: "Dial attempts against the user stream.",
	})
	connErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tweetfeeder_stream_connection_errors_total",
		Help: "Dial, read and keepalive errors on the user stream.",
	})
	connCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tweetfeeder_stream_current_connections",
		Help: "Open user stream connections.",
	})
	framesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tweetfeeder_stream_frames_total",
		Help: "Frames received on the user stream.",
	})
	hostSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tweetfeeder_stream_host_switches_total",
		Help: "Failovers between configured stream hosts.",
	}, []string{"from_host", "to_host"})
)

const (
	readBufferSize  = 1024 * 1024
	writeBufferSize = 1024
	writeTimeout    = 10 * time.Second
)

type Config struct {
	// Hosts are full websocket URLs tried in order.
	Hosts     []string
	UserAgent string
	Token     string

	ReadTimeout  time.Duration // default 90s
	PingInterval time.Duration // default 30s

	// OnConnect and OnDisconnect observe the connection lifecycle.
	OnConnect    func(host string)
	OnDisconnect func(host string, err error)
}

type Client struct {
	cfg    Config
	log    logx.Logger
	dialer websocket.Dialer
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	hosts := make([]string, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}
	cfg.Hosts = hosts
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 90 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg: cfg,
		log: log,
		dialer: websocket.Dialer{
			ReadBufferSize:   readBufferSize,
			WriteBufferSize:  writeBufferSize,
			HandshakeTimeout: 45 * time.Second,
			NetDialContext: (&net.Dialer{
				Timeout:   45 * time.Second,
				KeepAlive: 45 * time.Second,
			}).DialContext,
		},
	}, nil
}

// Run connects, forwards frames to out and reconnects with backoff, failing
// over between hosts, until ctx is cancelled.
func (c *Client) Run(ctx context.Context, out chan<- []byte) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 1.5
	bo.MaxElapsedTime = 0

	idx := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		host := c.cfg.Hosts[idx]

		conn, err := c.dial(ctx, host)
		if err != nil {
			connErrors.Inc()
			c.log.Warn("stream dial failed", logx.String("host", host), logx.Err(err))

			if next := (idx + 1) % len(c.cfg.Hosts); next != idx {
				hostSwitches.WithLabelValues(host, c.cfg.Hosts[next]).Inc()
				c.log.Info("switching stream host", logx.String("from", host), logx.String("to", c.cfg.Hosts[next]))
				idx = next
				// Only wait once every host has failed in a row.
				if idx != 0 {
					continue
				}
			}
			if err := sleep(ctx, bo.NextBackOff()); err != nil {
				return err
			}
			continue
		}

		bo.Reset()
		connCurrent.Inc()
		if c.cfg.OnConnect != nil {
			c.cfg.OnConnect(host)
		}
		err = c.consume(ctx, conn, out)
		connCurrent.Dec()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		connErrors.Inc()
		if c.cfg.OnDisconnect != nil {
			c.cfg.OnDisconnect(host, err)
		}
		c.log.Warn("stream disconnected", logx.String("host", host), logx.Err(err))
		if err := sleep(ctx, bo.NextBackOff()); err != nil {
			return err
		}
	}
}

func (c *Client) dial(ctx context.Context, host string) (*websocket.Conn, error) {
	connAttempts.Inc()
	headers := http.Header{}
	if c.cfg.UserAgent != "" {
		headers.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.Token != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, host, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (http %d)", host, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}
	return conn, nil
}

// consume reads frames until the connection fails or ctx is done.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn, out chan<- []byte) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	extend := func(string) error { return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)) }
	_ = extend("")
	conn.SetPingHandler(func(data string) error {
		_ = extend(data)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
	})
	conn.SetPongHandler(extend)

	go func() {
		// Closing the conn unblocks ReadMessage on cancel.
		<-connCtx.Done()
		_ = conn.Close()
	}()
	go c.keepalive(connCtx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		// Keep-alive newlines carry no payload.
		if len(strings.TrimSpace(string(data))) == 0 {
			continue
		}
		framesTotal.Inc()
		select {
		case out <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.log.Debug("stream ping failed", logx.Err(err))
				_ = conn.Close()
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
