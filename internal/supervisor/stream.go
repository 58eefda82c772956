package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/appfort/warden/internal/logstore"
)

const maxLineBytes = 1024 * 1024

// pumpStream consumes one child stream line by line until EOF. Every raw
// line is mirrored to the per-process file when mirroring is enabled; health
// responses are routed to the monitor instead of the log sink.
func (s *Supervisor) pumpStream(c *child, r io.ReadCloser, stream string, mirror io.Writer) {
	defer s.wg.Done()
	defer c.pumps.Done()

	level := logstore.LevelInfo
	if stream == "stderr" {
		level = logstore.LevelError
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Text()
		if mirror != nil {
			_, _ = fmt.Fprintln(mirror, line)
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if stream == "stdout" && strings.Contains(trimmed, healthResponseMarker) {
			s.handleHealthResponse(c, trimmed)
			continue
		}
		s.appendLog(c.id, level, trimmed)
	}
	if err := sc.Err(); err != nil {
		s.logger.Warn("process output aborted", "id", c.id, "stream", stream, "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

func (s *Supervisor) appendLog(id string, level logstore.Level, message string) {
	if err := s.logs.Append(context.Background(), id, logstore.Entry{Level: level, Message: message}); err != nil {
		s.logger.Debug("failed to append process log", "id", id, "error", err)
	}
}
