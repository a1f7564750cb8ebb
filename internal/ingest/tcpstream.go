package ingest

import (
	"bufio"
	"context"
	"errors"
	"net"
	"time"

	"healthbridge/internal/config"
)

const SourceTCPStream = "tcp_stream"

// StartTCPStream listens for newline-delimited readings. It returns the
// listener address, or nil when disabled or the listen failed.
func StartTCPStream(ctx context.Context, cfg *config.Manager, sink Sink) net.Addr {
	logger := sink.Logger
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return nil
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return nil
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", ln.Addr().String())
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if logger != nil {
					logger.Warn("tcp stream accept error", "err", err)
				}
				continue
			}
			go handleTCPStreamConn(ctx, conn, cfg, sink)
		}
	}()
	return ln.Addr()
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, cfg *config.Manager, sink Sink) {
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	parser := NewParser()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		fields, err := parser.ParseLine(scanner.Text())
		if err != nil {
			sink.rejected(SourceTCPStream, err)
			continue
		}
		if fields == nil {
			continue
		}
		dr, err := Convert(*fields, SourceTCPStream, time.Now(), cfg.Get().Monitoring.MaxFutureSkew)
		if err != nil {
			sink.rejected(SourceTCPStream, err)
			continue
		}
		sink.Send(ctx, dr)
		if ctx.Err() != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && sink.Logger != nil {
		sink.Logger.Warn("tcp stream scanner error", "err", err)
	}
}
