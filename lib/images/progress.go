package images

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/docker/pkg/jsonmessage"
)

// maxLogTail bounds the log lines kept for error reports.
const maxLogTail = 50

// streamResult summarizes a drained runtime message stream.
type streamResult struct {
	// Tail holds the most recent non-empty lines.
	Tail []string
	// Err is the runtime-reported failure, empty on success.
	Err string
	// Lines counts every line seen.
	Lines int
}

// drainStream decodes the runtime's newline-delimited JSON messages until EOF,
// logging each line. A message carrying an error is recorded in the result,
// not returned: only decode and read failures are errors here.
func drainStream(ctx context.Context, r io.Reader, log *slog.Logger, level slog.Level) (*streamResult, error) {
	res := &streamResult{}
	dec := json.NewDecoder(r)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			return res, fmt.Errorf("decode runtime stream: %w", err)
		}

		if msg.Error != nil && msg.Error.Message != "" {
			res.Err = msg.Error.Message
		} else if msg.ErrorMessage != "" { //nolint:staticcheck // older engines only set the string form
			res.Err = msg.ErrorMessage //nolint:staticcheck
		}
		if res.Err != "" {
			log.ErrorContext(ctx, "runtime reported error", "error", res.Err)
			res.push(res.Err)
			return res, nil
		}

		line := messageLine(msg)
		if line == "" {
			continue
		}
		log.Log(ctx, level, line)
		res.push(line)
	}
}

func (r *streamResult) push(line string) {
	r.Lines++
	r.Tail = append(r.Tail, line)
	if len(r.Tail) > maxLogTail {
		r.Tail = r.Tail[len(r.Tail)-maxLogTail:]
	}
}

func messageLine(msg jsonmessage.JSONMessage) string {
	if s := strings.TrimSpace(msg.Stream); s != "" {
		return s
	}
	s := strings.TrimSpace(msg.Status)
	if s != "" && msg.ID != "" {
		s = msg.ID + ": " + s
	}
	return s
}
