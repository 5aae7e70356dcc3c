package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/okian/hrvlink/pkg/logger"
)

// ErrBadLine is returned by ParseLine for lines that are not "bpm[,epochSeconds]".
var ErrBadLine = errors.New("bad sample line")

// ReaderSource reads live samples, one per line, from r. Each line is
// "bpm" or "bpm,epochSeconds"; blank lines and lines starting with # are
// skipped. Lines without a timestamp are stamped on arrival.
type ReaderSource struct {
	r   io.Reader
	now func() time.Time
	log logger.Logger
}

// NewReaderSource wraps r (a device file, FIFO or stdin).
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r, now: time.Now, log: logger.Named("source.reader")}
}

// Run blocks in reads; ctx is checked between lines, so a silent reader
// keeps Run alive until it is closed.
func (s *ReaderSource) Run(ctx context.Context, emit EmitFunc) error {
	sc := bufio.NewScanner(s.r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		bpm, ts, err := ParseLine(line, s.now)
		if err != nil {
			s.log.Warn(ctx, "skipping sample line", logger.String("line", line), logger.Error(err))
			continue
		}
		emit(bpm, ts)
	}
	return sc.Err()
}

// ParseLine parses "bpm" or "bpm,epochSeconds".
func ParseLine(line string, now func() time.Time) (float64, time.Time, error) {
	rateField, tsField, hasTS := strings.Cut(line, ",")

	bpm, err := strconv.ParseFloat(strings.TrimSpace(rateField), 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %w", ErrBadLine, err)
	}
	if math.IsNaN(bpm) || math.IsInf(bpm, 0) || bpm <= 0 {
		return 0, time.Time{}, fmt.Errorf("%w: heart rate %v", ErrBadLine, bpm)
	}

	if !hasTS {
		return bpm, now(), nil
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(tsField), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return 0, time.Time{}, fmt.Errorf("%w: timestamp %q", ErrBadLine, tsField)
	}
	whole, frac := math.Modf(secs)
	return bpm, time.Unix(int64(whole), int64(math.Round(frac*1e9))), nil
}
