package commitlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/robbenti/nsdb/internal/model"
)

// Commit log file format constants
var (
	logMagic   = []byte{'N', 'S', 'D', 'B'}
	logVersion = uint16(0x0001)
)

const (
	checksumCRC32 = 0x01

	// Entry format: [Length: 4 bytes] [Timestamp: 8 bytes] [Checksum: 4 bytes] [Payload: N bytes]
	entryHeaderSize = 16
	fileHeaderSize  = 7 // Magic(4) + Version(2) + ChecksumType(1)

	// MaxPayloadSize bounds a single entry, preventing overflow during
	// buffer allocation on replay.
	MaxPayloadSize = 16 * 1024 * 1024
)

// ErrPayloadTooLarge indicates the entry exceeds MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("commit log payload exceeds maximum allowed size")

// wireScalar is the msgpack form of a tagged scalar.
type wireScalar struct {
	Kind int8    `msgpack:"k"`
	I    int64   `msgpack:"i,omitempty"`
	F    float64 `msgpack:"f,omitempty"`
	S    string  `msgpack:"s,omitempty"`
}

func toWire(s model.Scalar) wireScalar {
	switch s.Kind() {
	case model.KindInt64:
		return wireScalar{Kind: int8(model.KindInt64), I: s.Int64()}
	case model.KindString:
		return wireScalar{Kind: int8(model.KindString), S: s.Str()}
	default:
		return wireScalar{Kind: int8(s.Kind()), F: s.Float64()}
	}
}

func fromWire(w wireScalar) model.Scalar {
	switch model.ScalarKind(w.Kind) {
	case model.KindInt64:
		return model.Int64Scalar(w.I)
	case model.KindFloat64:
		return model.Float64Scalar(w.F)
	case model.KindString:
		return model.StringScalar(w.S)
	default:
		return model.DecimalScalar(w.F)
	}
}

func wireMap(m map[string]model.Scalar) map[string]wireScalar {
	out := make(map[string]wireScalar, len(m))
	for k, v := range m {
		out[k] = toWire(v)
	}
	return out
}

func scalarMap(m map[string]wireScalar) map[string]model.Scalar {
	out := make(map[string]model.Scalar, len(m))
	for k, v := range m {
		out[k] = fromWire(v)
	}
	return out
}

// Entry is one logged write: the record plus its routing key.
type Entry struct {
	Db         string                `msgpack:"db"`
	Namespace  string                `msgpack:"ns"`
	Metric     string                `msgpack:"m"`
	Timestamp  int64                 `msgpack:"ts"`
	Value      wireScalar            `msgpack:"v"`
	Dimensions map[string]wireScalar `msgpack:"d"`
	Tags       map[string]wireScalar `msgpack:"t"`
}

// NewEntry builds the logged form of one accepted write.
func NewEntry(db, ns, metric string, bit model.Bit) Entry {
	return Entry{
		Db:         db,
		Namespace:  ns,
		Metric:     metric,
		Timestamp:  bit.Timestamp,
		Value:      toWire(bit.Value),
		Dimensions: wireMap(bit.Dimensions),
		Tags:       wireMap(bit.Tags),
	}
}

// Bit rebuilds the record carried by the entry.
func (e Entry) Bit() model.Bit {
	return model.Bit{
		Timestamp:  e.Timestamp,
		Value:      fromWire(e.Value),
		Dimensions: scalarMap(e.Dimensions),
		Tags:       scalarMap(e.Tags),
	}
}

// Config holds configuration for the commit log writer.
type Config struct {
	Dir           string
	MaxSizeBytes  int64         // Rotate when the segment reaches this size
	MaxAge        time.Duration // Rotate after this duration
	Compress      bool          // zstd-compress rotated segments
	Logger        zerolog.Logger
}

// Log is the write-ahead commit log. Append is synchronous: the entry is
// framed, checksummed and written before the write is acknowledged.
type Log struct {
	config Config
	logger zerolog.Logger

	mu          sync.Mutex
	currentFile *os.File
	currentPath string
	currentSize int64
	startTime   time.Time

	TotalEntries int64
	TotalBytes   int64
}

// Open creates the commit log directory and the first segment.
func Open(cfg Config) (*Log, error) {
	if cfg.MaxSizeBytes == 0 {
		cfg.MaxSizeBytes = 100 * 1024 * 1024
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = time.Hour
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create commit log directory: %w", err)
	}

	l := &Log{
		config: cfg,
		logger: cfg.Logger.With().Str("component", "commit-log").Logger(),
	}
	if err := l.rotate(); err != nil {
		return nil, fmt.Errorf("failed to create initial commit log segment: %w", err)
	}

	l.logger.Info().
		Str("dir", cfg.Dir).
		Int64("max_size_mb", cfg.MaxSizeBytes/1024/1024).
		Dur("max_age", cfg.MaxAge).
		Bool("compress", cfg.Compress).
		Msg("Commit log opened")
	return l, nil
}

// Append frames and writes one entry, in write-ahead order: the caller replies
// to the client only after Append returns.
func (l *Log) Append(e Entry) error {
	payload, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize commit log entry: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	checksum := crc32.ChecksumIEEE(payload)
	timestampUS := uint64(time.Now().UnixMicro())

	frame := make([]byte, entryHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint64(frame[4:12], timestampUS)
	binary.BigEndian.PutUint32(frame[12:16], checksum)
	copy(frame[entryHeaderSize:], payload)

	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.currentFile.Write(frame)
	if err != nil {
		return fmt.Errorf("failed to write commit log entry: %w", err)
	}
	l.currentSize += int64(n)
	l.TotalEntries++
	l.TotalBytes += int64(n)

	if l.currentSize >= l.config.MaxSizeBytes || time.Since(l.startTime) >= l.config.MaxAge {
		if err := l.rotate(); err != nil {
			l.logger.Error().Err(err).Msg("Failed to rotate commit log")
		}
	}
	return nil
}

// rotate seals the current segment and opens a new one. Must be called with
// mu held (or before the log is shared).
func (l *Log) rotate() error {
	var sealed string
	if l.currentFile != nil {
		l.currentFile.Sync()
		l.currentFile.Close()
		sealed = l.currentPath
	}

	timestamp := time.Now().Format("20060102_150405.000000000")
	l.currentPath = filepath.Join(l.config.Dir, fmt.Sprintf("nsdb-%s.log", timestamp))

	f, err := os.OpenFile(l.currentPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to create commit log segment: %w", err)
	}
	l.currentFile = f
	l.currentSize = 0
	l.startTime = time.Now()

	header := make([]byte, fileHeaderSize)
	copy(header[0:4], logMagic)
	binary.BigEndian.PutUint16(header[4:6], logVersion)
	header[6] = checksumCRC32
	n, err := f.Write(header)
	if err != nil {
		return fmt.Errorf("failed to write commit log header: %w", err)
	}
	l.currentSize += int64(n)

	if sealed != "" && l.config.Compress {
		go l.compressSegment(sealed)
	}
	l.logger.Info().Str("file", filepath.Base(l.currentPath)).Msg("Commit log rotated")
	return nil
}

// compressSegment zstd-compresses a sealed segment and removes the original.
func (l *Log) compressSegment(path string) {
	src, err := os.Open(path)
	if err != nil {
		l.logger.Error().Err(err).Str("file", path).Msg("Failed to open sealed segment")
		return
	}
	defer src.Close()

	dst, err := os.OpenFile(path+".zst", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		l.logger.Error().Err(err).Str("file", path).Msg("Failed to create compressed segment")
		return
	}

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		dst.Close()
		l.logger.Error().Err(err).Msg("Failed to create zstd writer")
		return
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dst.Close()
		l.logger.Error().Err(err).Str("file", path).Msg("Failed to compress segment")
		return
	}
	if err := enc.Close(); err != nil {
		dst.Close()
		l.logger.Error().Err(err).Str("file", path).Msg("Failed to finish compressed segment")
		return
	}
	if err := dst.Close(); err != nil {
		l.logger.Error().Err(err).Str("file", path).Msg("Failed to close compressed segment")
		return
	}
	if err := os.Remove(path); err != nil {
		l.logger.Error().Err(err).Str("file", path).Msg("Failed to remove sealed segment")
		return
	}
	l.logger.Debug().Str("file", filepath.Base(path)).Msg("Segment compressed")
}

// Close seals the log.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentFile == nil {
		return nil
	}
	l.currentFile.Sync()
	err := l.currentFile.Close()
	l.currentFile = nil
	l.logger.Info().Int64("entries", l.TotalEntries).Msg("Commit log closed")
	return err
}
