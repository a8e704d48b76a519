package ripper

import (
	"log/slog"
	"os"
	"path"
	"strings"
)

// minWriteBufSize and maxWriteBufSize clamp the configured write buffer to avoid
// tiny writes (no benefit) or very large buffers (memory and latency).
const (
	minWriteBufSize = 32 * 1024       // 32 KiB
	maxWriteBufSize = 4 * 1024 * 1024 // 4 MiB

	// maxSyncSearch is how much audio is held back looking for the first frame.
	maxSyncSearch = 8192
)

// trackWriter writes the events of a ChannelWriter to one temp file per track
// and commits each file when its track ends.
type trackWriter struct {
	logger       *slog.Logger
	writeBufSize int

	f         *os.File
	destPath  string
	syncFrame bool
	buffer    []byte // accumulates data until we find frame sync
	writeBuf  []byte // batches writes to reduce disk I/O
}

func newTrackWriter(writeBufSize int, logger *slog.Logger) *trackWriter {
	if writeBufSize < minWriteBufSize {
		writeBufSize = minWriteBufSize
	}
	if writeBufSize > maxWriteBufSize {
		writeBufSize = maxWriteBufSize
	}
	return &trackWriter{
		logger:       logger,
		writeBufSize: writeBufSize,
	}
}

// run consumes events until the channel is closed.
func (t *trackWriter) run(events <-chan event) {
	for e := range events {
		if e.track != "" {
			t.startTrack(e.track)
			continue
		}
		t.write(e.data)
	}
	// Channel closed (shutdown); close file and exit
	t.closeAndCommit()
}

func (t *trackWriter) startTrack(destPath string) {
	if destPath == t.destPath && t.f != nil {
		return
	}
	t.closeAndCommit()

	dir := path.Dir(destPath)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		t.logger.Error("error creating stream directory", "err", err)
		return
	}
	f, err := os.CreateTemp(dir, "*"+path.Ext(destPath)+".tmp")
	if err != nil {
		t.logger.Error("error creating temp file", "err", err)
		return
	}

	t.logger.Debug("starting new track", "path", destPath)
	t.f = f
	t.destPath = destPath
	t.syncFrame = strings.HasSuffix(destPath, ".mp3")
	t.buffer = t.buffer[:0]
	t.writeBuf = make([]byte, 0, t.writeBufSize)
}

func (t *trackWriter) write(b []byte) {
	if t.f == nil {
		metricBytesDiscarded.Add(float64(len(b)))
		return
	}

	if t.syncFrame {
		// Find the first MP3 frame sync in the accumulated buffer + new data
		t.buffer = append(t.buffer, b...)
		framePos := findMP3FrameSync(t.buffer)
		switch {
		case framePos >= 0:
			b = t.buffer[framePos:]
		case len(t.buffer) > maxSyncSearch:
			// Buffer is getting large, write it anyway (might be valid MP3 without sync)
			t.logger.Warn("no MP3 frame sync found in first 8KB, writing anyway")
			b = t.buffer
		default:
			// Otherwise, keep buffering
			return
		}
		t.syncFrame = false
		t.buffer = nil
	}

	// Normal write: batch in memory and only write when buffer is large enough
	t.writeBuf = append(t.writeBuf, b...)
	if len(t.writeBuf) >= t.writeBufSize {
		t.flush()
	}
}

func (t *trackWriter) flush() {
	if len(t.writeBuf) == 0 || t.f == nil {
		return
	}
	n, err := t.f.Write(t.writeBuf)
	metricBytesWritten.Add(float64(n))
	if err != nil {
		t.logger.Error("error writing to file", "err", err)
	}
	t.writeBuf = t.writeBuf[:0]
}

func (t *trackWriter) closeAndCommit() {
	if t.f == nil {
		return
	}
	tempPath := t.f.Name()
	// Flush any remaining buffered data (frame-sync buffer and write batch buffer)
	t.writeBuf = append(t.writeBuf, t.buffer...)
	t.buffer = nil
	t.flush()
	if syncErr := t.f.Sync(); syncErr != nil {
		t.logger.Error("error syncing file", "err", syncErr)
	}
	if closeErr := t.f.Close(); closeErr != nil {
		t.logger.Error("error closing file", "err", closeErr)
	}
	t.f = nil
	t.commitTempFile(tempPath, t.destPath)
}

// commitTempFile renames tempPath to destPath only if dest doesn't exist or
// the temp file is larger (so a previous crash doesn't overwrite a good recording).
func (t *trackWriter) commitTempFile(tempPath, destPath string) {
	tempInfo, err := os.Stat(tempPath)
	if err != nil {
		t.logger.Error("error stating temp file", "err", err, "path", tempPath)
		_ = os.Remove(tempPath)
		return
	}
	destInfo, err := os.Stat(destPath)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Error("error stating dest file", "err", err, "path", destPath)
			_ = os.Remove(tempPath)
			return
		}
		// Dest doesn't exist; use the temp file.
		if err := os.Rename(tempPath, destPath); err != nil {
			t.logger.Error("error renaming temp to dest", "err", err, "temp", tempPath, "dest", destPath)
			_ = os.Remove(tempPath)
			return
		}
		t.logger.Debug("saved new recording", "path", destPath)
		return
	}
	if tempInfo.Size() > destInfo.Size() {
		if err := os.Rename(tempPath, destPath); err != nil {
			t.logger.Error("error renaming temp to dest", "err", err, "temp", tempPath, "dest", destPath)
			_ = os.Remove(tempPath)
			return
		}
		t.logger.Debug("overwrote with longer recording", "path", destPath, "size", tempInfo.Size())
	} else {
		_ = os.Remove(tempPath)
		t.logger.Debug("discarded shorter recording", "path", destPath, "temp_size", tempInfo.Size(), "existing_size", destInfo.Size())
	}
}
