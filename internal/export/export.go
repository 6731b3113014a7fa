// Package export renders stored packets as text and writes or reads the
// plain-text capture log.
//
// Each record is:
//
//	Time: <timestamp>
//	NO: <sequence>
//	<hex/ASCII dump>
//
// The dump produced by Dump is the same rendering the filter engine searches
// with -c, so what a user sees in a saved log is what content filters match.
package export

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"firestige.xyz/wirecat/internal/core"
)

// TimeLayout is the timestamp layout used in records. It keeps nanoseconds
// and the zone offset so a parsed record names the same instant, including
// inside a DST fall-back hour.
const TimeLayout = "2006-01-02 15:04:05.000000000 -0700"

// legacyTimeLayout is the older microsecond local-time layout, still accepted by Parse.
const legacyTimeLayout = "2006-01-02 15:04:05.000000"

// FileNameLayout produces the default log file name, e.g. 10-18_14-03-59.log.
const FileNameLayout = "01-02_15-04-05"

// Dump renders frame bytes as a hex/ASCII dump, 16 bytes per line.
func Dump(frame []byte) string {
	return hex.Dump(frame)
}

// Record is one parsed export record.
type Record struct {
	Time time.Time
	Seq  uint64
	Dump string // dump text as written, including the trailing newline
	Data []byte // bytes recovered from the dump
}

// WriteRecord writes a single packet record.
func WriteRecord(w io.Writer, pkt *core.DecodedPacket) error {
	_, err := fmt.Fprintf(w, "Time: %s\nNO: %d\n%s\n",
		pkt.Timestamp.Format(TimeLayout), pkt.Seq, Dump(pkt.Raw))
	return err
}

// Write writes every packet of snapshot in order.
func Write(w io.Writer, snapshot []*core.DecodedPacket) error {
	bw := bufio.NewWriter(w)
	for _, pkt := range snapshot {
		if err := WriteRecord(bw, pkt); err != nil {
			return fmt.Errorf("write record %d: %w", pkt.Seq, err)
		}
	}
	return bw.Flush()
}

// DefaultFileName returns the log file name for a save started at t.
func DefaultFileName(t time.Time) string {
	return t.Format(FileNameLayout) + ".log"
}

// SaveFile writes snapshot to path. If path is a directory, or empty, the
// default file name is used inside it. It returns the path written.
func SaveFile(path string, snapshot []*core.DecodedPacket) (string, error) {
	if path == "" {
		path = "."
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, DefaultFileName(time.Now()))
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := Write(f, snapshot); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	return path, nil
}

// Parse reads records written by Write. Timestamps without a zone offset
// (legacyTimeLayout) are interpreted in the local time zone.
func Parse(r io.Reader) ([]Record, error) {
	var (
		records []Record
		cur     *Record
		dump    strings.Builder
		lineNo  int
	)

	flush := func() error {
		if cur == nil {
			return nil
		}
		cur.Dump = dump.String()
		data, err := undump(cur.Dump)
		if err != nil {
			return fmt.Errorf("record %d: %w", cur.Seq, err)
		}
		cur.Data = data
		records = append(records, *cur)
		cur = nil
		dump.Reset()
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		line := sc.Text()

		switch {
		case strings.HasPrefix(line, "Time: "):
			if err := flush(); err != nil {
				return nil, err
			}
			ts, err := parseTime(strings.TrimPrefix(line, "Time: "))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			cur = &Record{Time: ts}

			if !sc.Scan() {
				return nil, fmt.Errorf("line %d: missing NO line", lineNo)
			}
			lineNo++
			no, ok := strings.CutPrefix(sc.Text(), "NO: ")
			if !ok {
				return nil, fmt.Errorf("line %d: expected NO line, got %q", lineNo, sc.Text())
			}
			seq, err := strconv.ParseUint(no, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			cur.Seq = seq

		case line == "":
			// Record separator.
			if err := flush(); err != nil {
				return nil, err
			}

		default:
			if cur == nil {
				return nil, fmt.Errorf("line %d: dump outside a record", lineNo)
			}
			dump.WriteString(line)
			dump.WriteByte('\n')
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return records, nil
}

func parseTime(s string) (time.Time, error) {
	ts, err := time.Parse(TimeLayout, s)
	if err == nil {
		return ts, nil
	}
	if legacy, lerr := time.ParseInLocation(legacyTimeLayout, s, time.Local); lerr == nil {
		return legacy, nil
	}
	return time.Time{}, err
}

// undump recovers the bytes of a hex.Dump rendering.
func undump(s string) ([]byte, error) {
	var out []byte
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		// fields[0] is the offset column; the ASCII column starts with '|'.
		for _, f := range fields[1:] {
			if strings.HasPrefix(f, "|") {
				break
			}
			b, err := hex.DecodeString(f)
			if err != nil || len(b) != 1 {
				return nil, fmt.Errorf("bad dump byte %q", f)
			}
			out = append(out, b[0])
		}
	}
	return out, nil
}
