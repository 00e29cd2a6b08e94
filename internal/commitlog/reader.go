package commitlog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Reader replays commit log segments for recovery.
type Reader struct {
	dir    string
	logger zerolog.Logger

	TotalEntries     int64
	CorruptedEntries int64
}

func NewReader(dir string, logger zerolog.Logger) *Reader {
	return &Reader{
		dir:    dir,
		logger: logger.With().Str("component", "commit-log-reader").Logger(),
	}
}

// ReplayAll reads every segment in timestamp order and hands each decoded
// entry to the callback. Corrupted frames are counted and skipped; a frame
// that fails its checksum poisons the rest of its segment only.
func (r *Reader) ReplayAll(fn func(Entry) error) error {
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		r.logger.Info().Msg("No commit log directory, skipping replay")
		return nil
	}

	files, err := r.segments()
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := r.replaySegment(path, fn); err != nil {
			return err
		}
	}
	r.logger.Info().
		Int("segments", len(files)).
		Int64("entries", r.TotalEntries).
		Int64("corrupted", r.CorruptedEntries).
		Msg("Commit log replay complete")
	return nil
}

// segments lists segment paths sorted by the timestamp in their names,
// compressed ones included.
func (r *Reader) segments() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit log directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "nsdb-") && (strings.HasSuffix(name, ".log") || strings.HasSuffix(name, ".log.zst")) {
			out = append(out, filepath.Join(r.dir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Reader) replaySegment(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open commit log segment: %w", err)
	}
	defer f.Close()

	var src io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open compressed segment: %w", err)
		}
		defer dec.Close()
		src = dec
	}

	header := make([]byte, fileHeaderSize)
	if _, err := io.ReadFull(src, header); err != nil {
		r.logger.Warn().Str("file", path).Msg("Segment too short, skipping")
		return nil
	}
	if !bytes.Equal(header[0:4], logMagic) {
		return fmt.Errorf("segment %s: invalid magic bytes", path)
	}
	if v := binary.BigEndian.Uint16(header[4:6]); v != logVersion {
		r.logger.Warn().Uint16("version", v).Str("file", path).Msg("Segment version mismatch")
	}

	for {
		entry, err := r.readEntry(src)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// A torn tail is expected after a crash; stop at the first bad frame.
			r.logger.Warn().Err(err).Str("file", path).Msg("Stopping replay at corrupted frame")
			r.CorruptedEntries++
			return nil
		}
		if err := fn(*entry); err != nil {
			return err
		}
		r.TotalEntries++
	}
}

func (r *Reader) readEntry(src io.Reader) (*Entry, error) {
	header := make([]byte, entryHeaderSize)
	if _, err := io.ReadFull(src, header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	payloadLen := binary.BigEndian.Uint32(header[0:4])
	expected := binary.BigEndian.Uint32(header[12:16])
	if payloadLen > MaxPayloadSize {
		return nil, fmt.Errorf("frame length %d exceeds limit", payloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(src, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}
	if crc32.ChecksumIEEE(payload) != expected {
		return nil, fmt.Errorf("frame checksum mismatch")
	}

	var e Entry
	if err := msgpack.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return &e, nil
}
