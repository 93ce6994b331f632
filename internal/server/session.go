package server

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/emberdb/emberdb/internal/command"
	"github.com/emberdb/emberdb/internal/protocol"
)

// handleConnection runs the session loop for one client and logs why it ended.
func (s *Server) handleConnection(ctx context.Context, client *clientConn) {
	defer client.conn.Close()

	log := s.logger.With("conn", client.id.String(), "remote", client.addr)
	log.Debug("connection opened")

	err := s.serveConn(ctx, client)
	var netErr net.Error
	switch {
	case err == nil, errors.Cause(err) == io.EOF, errors.Is(err, net.ErrClosed):
		log.Debug("connection closed", "commands", client.cmdCount.Load())
	case errors.As(err, &netErr) && netErr.Timeout():
		log.Debug("connection idle timeout", "commands", client.cmdCount.Load())
	default:
		log.Warn("connection closed", "error", err, "commands", client.cmdCount.Load())
	}
}

// serveConn decodes every complete frame already buffered, executes it and
// queues the reply. Replies are flushed only when the buffer runs dry, so a
// pipelined batch costs one write. Malformed input and invalid commands end
// the session.
func (s *Server) serveConn(ctx context.Context, c *clientConn) error {
	reader := protocol.NewReader(c.conn, s.config.MaxFrameBytes)
	writer := protocol.NewWriter(c.conn)
	writer.SetAutoFlush(false)

	for {
		f, err := reader.Next()
		if errors.Is(err, protocol.ErrNotComplete) {
			if err := s.flush(c, writer); err != nil {
				return errors.Wrap(err, "write")
			}
			if s.config.ReadTimeout > 0 {
				if err := c.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
					return errors.Wrap(err, "set read deadline")
				}
			}
			if err := reader.Fill(); err != nil {
				if errors.Is(err, protocol.ErrFrameTooLarge) {
					s.metrics.ProtocolError("limit")
				}
				return errors.Wrap(err, "read")
			}
			continue
		}
		if err != nil {
			s.metrics.ProtocolError("decode")
			return errors.Wrap(err, "decode")
		}

		cmd, err := command.Parse(f)
		if err != nil {
			s.metrics.ProtocolError("parse")
			return errors.Wrap(err, "parse")
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return errors.Wrap(err, "rate limit")
			}
		}

		if err := writer.WriteFrame(s.execute(c, cmd)); err != nil {
			return errors.Wrap(err, "write")
		}
	}
}

func (s *Server) flush(c *clientConn, w *protocol.Writer) error {
	if w.Buffered() == 0 {
		return nil
	}
	if s.config.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
			return errors.Wrap(err, "set write deadline")
		}
	}
	return w.Flush()
}

// execute runs one command and records it in the connection and server counters.
func (s *Server) execute(c *clientConn, cmd command.Command) protocol.Frame {
	start := time.Now()
	reply := command.Execute(cmd, s.store)
	s.metrics.ObserveCommand(command.Name(cmd), time.Since(start))

	if s.hotkeys != nil {
		if key, ok := command.Key(cmd); ok {
			s.hotkeys.Record(key)
		}
	}
	c.cmdCount.Add(1)
	c.lastCommand.Store(start.UnixNano())
	s.totalCmds.Add(1)
	return reply
}
