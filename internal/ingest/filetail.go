package ingest

import (
	"bufio"
	"context"
	"io"
	"os"
	"time"

	"healthbridge/internal/config"
)

const SourceFileTail = "file_tail"

func StartFileTail(ctx context.Context, cfg *config.Manager, sink Sink) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if sink.Logger != nil {
			sink.Logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if sink.Logger != nil {
			sink.Logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, cfg, sink)
	}
}

// tailFile follows path and reopens it from the start when it shrinks.
func tailFile(ctx context.Context, path string, startAtEnd bool, cfg *config.Manager, sink Sink) {
	logger := sink.Logger
	parser := NewParser()
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
				// Only the first open skips existing lines; a truncated file
				// is read from the top.
				startAtEnd = false
			}
		}

		reader := bufio.NewReader(file)
		var partial string
		for {
			chunk, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					partial += chunk
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						_ = file.Close()
						file = nil
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			line := partial + chunk
			partial = ""
			offset += int64(len(line))
			fields, err := parser.ParseLine(line)
			if err != nil {
				sink.rejected(SourceFileTail, err)
				continue
			}
			if fields == nil {
				continue
			}
			dr, err := Convert(*fields, SourceFileTail, time.Now(), cfg.Get().Monitoring.MaxFutureSkew)
			if err != nil {
				sink.rejected(SourceFileTail, err)
				continue
			}
			sink.Send(ctx, dr)
		}
	}
}
