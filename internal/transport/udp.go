package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// maxDatagram bounds a received datagram.
const maxDatagram = 64 * 1024

var ErrRateLimited = errors.New("transport: outgoing bandwidth exceeded")

type UDPConfig struct {
	Listen string `yaml:"listen"`
	Remote string `yaml:"remote"`
	// BytesPerSecond caps outgoing traffic. Zero disables the cap.
	BytesPerSecond int  `yaml:"bytes_per_second"`
	Burst          int  `yaml:"burst"`
	Compress       bool `yaml:"compress"`
}

func DefaultUDPConfig() UDPConfig {
	return UDPConfig{
		Listen:   "127.0.0.1:7400",
		Remote:   "127.0.0.1:7401",
		Burst:    maxDatagram,
		Compress: true,
	}
}

type UDP struct {
	conn     *net.UDPConn
	remote   *net.UDPAddr
	limiter  *rate.Limiter
	compress bool
	log      zerolog.Logger

	sent    atomic.Int64
	limited atomic.Int64
}

func ListenUDP(cfg UDPConfig, log zerolog.Logger) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address: %w", err)
	}
	var raddr *net.UDPAddr
	if cfg.Remote != "" {
		raddr, err = net.ResolveUDPAddr("udp", cfg.Remote)
		if err != nil {
			return nil, fmt.Errorf("resolve remote address: %w", err)
		}
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}

	u := &UDP{conn: conn, remote: raddr, compress: cfg.Compress, log: log}
	if cfg.BytesPerSecond > 0 {
		burst := cfg.Burst
		if burst < cfg.BytesPerSecond/10 {
			burst = cfg.BytesPerSecond / 10
		}
		u.limiter = rate.NewLimiter(rate.Limit(cfg.BytesPerSecond), burst)
	}
	return u, nil
}

func (u *UDP) Addr() net.Addr { return u.conn.LocalAddr() }

// SetRemote changes the destination of Send.
func (u *UDP) SetRemote(addr *net.UDPAddr) { u.remote = addr }

// Send writes one batch as a datagram. Batches over the bandwidth cap are
// dropped with ErrRateLimited rather than queued.
func (u *UDP) Send(data []byte) error {
	if u.remote == nil {
		return errors.New("transport: no remote address")
	}
	frame, err := EncodeFrame(data, u.compress)
	if err != nil {
		return err
	}
	if u.limiter != nil && !u.limiter.AllowN(time.Now(), len(frame)) {
		u.limited.Add(1)
		return ErrRateLimited
	}
	if _, err := u.conn.WriteToUDP(frame, u.remote); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	u.sent.Add(1)
	return nil
}

// Serve reads datagrams until ctx is done, passing each decoded batch to
// handle. data is only valid during the call. Undecodable datagrams are
// logged and skipped.
func (u *UDP) Serve(ctx context.Context, handle func(data []byte)) error {
	go func() {
		<-ctx.Done()
		u.conn.SetReadDeadline(time.Now())
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		data, err := DecodeFrame(buf[:n])
		if err != nil {
			u.log.Warn().Err(err).Stringer("from", from).Msg("dropping datagram")
			continue
		}
		handle(data)
	}
}

// Stats returns the number of datagrams sent and dropped by the limiter.
func (u *UDP) Stats() (sent, limited int64) {
	return u.sent.Load(), u.limited.Load()
}

func (u *UDP) Close() error { return u.conn.Close() }
