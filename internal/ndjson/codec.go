// Package ndjson reads and writes newline-delimited JSON, one value per line,
// with a hard per-line size limit.
package ndjson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// MaxMessageSize is the largest accepted line (256 KiB).
const MaxMessageSize = 256 * 1024

// Encoder writes NDJSON values to an output stream.
type Encoder struct {
	writer *bufio.Writer
	logger *slog.Logger
}

// NewEncoder creates an Encoder over w.
func NewEncoder(w io.Writer, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{
		writer: bufio.NewWriter(w),
		logger: logger,
	}
}

// Encode writes v as a single line and flushes it.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if len(data) > MaxMessageSize {
		e.logger.Error("message exceeds size limit",
			"size", len(data),
			"limit", MaxMessageSize,
			"overflow", len(data)-MaxMessageSize)
		return fmt.Errorf("message size %d exceeds limit %d", len(data), MaxMessageSize)
	}

	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := e.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	return nil
}

// Decoder reads NDJSON values from an input stream.
type Decoder struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
	lineNum int
}

// NewDecoder creates a Decoder over r.
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxMessageSize)

	return &Decoder{
		scanner: scanner,
		logger:  logger,
	}
}

// Decode reads the next non-empty line into v. It returns io.EOF at the end
// of input.
func (d *Decoder) Decode(v any) error {
	for {
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				return fmt.Errorf("scanner error at line %d: %w", d.lineNum+1, err)
			}
			return io.EOF
		}
		d.lineNum++

		data := d.scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		if err := json.Unmarshal(data, v); err != nil {
			d.logger.Error("failed to unmarshal JSON",
				"line", d.lineNum,
				"error", err,
				"data", string(data[:min(100, len(data))]))
			return fmt.Errorf("failed to unmarshal line %d: %w", d.lineNum, err)
		}
		return nil
	}
}

// Line is the number of the most recently read line.
func (d *Decoder) Line() int { return d.lineNum }
