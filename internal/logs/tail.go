package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// pollInterval is how often Tail rechecks the file while following.
const pollInterval = 250 * time.Millisecond

// Options selects which lines Tail returns.
type Options struct {
	// Offset is the byte position to read from. A negative offset returns the
	// last Limit lines instead.
	Offset int64
	Limit  int
	// Match keeps only lines containing this substring, such as a run id.
	Match string
	// Follow waits up to Wait for new lines when none are available yet.
	Follow bool
	Wait   time.Duration
}

// Result carries matching lines and the offset to resume from.
type Result struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from path. A missing file yields an empty result.
func Tail(ctx context.Context, path string, opts Options) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("log path %q is a directory", path)
	}

	var res Result
	if opts.Offset < 0 {
		res, err = lastLines(path, opts.Limit, opts.Match)
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			// Truncated or rotated; restart from the top.
			offset = 0
		}
		res, err = readFrom(path, offset, opts.Match)
	}
	if err != nil || len(res.Lines) > 0 || !opts.Follow || opts.Wait <= 0 {
		return res, err
	}
	return waitForLines(ctx, path, res.Offset, opts.Match, opts.Wait)
}

func lastLines(path string, limit int, match string) (Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return Result{}, fmt.Errorf("seek log file: %w", err)
		}
		return Result{Offset: end}, nil
	}

	ring := make([]string, 0, limit)
	start := 0
	scanned, err := scanLines(file, match, func(line string) {
		if len(ring) < limit {
			ring = append(ring, line)
			return
		}
		ring[start] = line
		start = (start + 1) % limit
	})
	if err != nil {
		return Result{}, err
	}
	lines := append(append([]string(nil), ring[start:]...), ring[:start]...)
	return Result{Lines: lines, Offset: scanned}, nil
}

func readFrom(path string, offset int64, match string) (Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return Result{Offset: offset}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return Result{Offset: offset}, fmt.Errorf("seek log file: %w", err)
	}
	var lines []string
	read, err := scanLines(file, match, func(line string) { lines = append(lines, line) })
	if err != nil {
		return Result{Offset: offset}, err
	}
	return Result{Lines: lines, Offset: offset + read}, nil
}

// scanLines feeds complete matching lines to emit and returns how many bytes
// were consumed. A trailing partial line is left for the next read.
func scanLines(r io.Reader, match string, emit func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return consumed, nil
			}
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		if match == "" || strings.Contains(line, match) {
			emit(line)
		}
	}
}

func waitForLines(ctx context.Context, path string, offset int64, match string, wait time.Duration) (Result, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{Offset: offset}, ctx.Err()
		case <-timer.C:
			return Result{Offset: offset}, nil
		case <-ticker.C:
			res, err := readFrom(path, offset, match)
			if err != nil {
				return res, err
			}
			offset = res.Offset
			if len(res.Lines) > 0 {
				return res, nil
			}
		}
	}
}
