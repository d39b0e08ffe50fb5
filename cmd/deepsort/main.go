// Command deepsort reads detection frames as JSON lines from stdin and writes them back
// to stdout annotated with track identities.
//
// Input line:
//
//	{"camera":{"id":1},"frame":7,"items":[{"bbox":[x,y,w,h],"confidence":0.9,"feature":[...]}]}
//
// Every camera id gets its own tracker; identities are never shared between cameras.
// Items consumed by a visible track get an "id" field, and the line gets a "tracks" array.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Duy-Cao-Vo/Head-detection-Deep-sort/mot"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var (
	configPath    = flag.String("config", "", "Path to JSON tracker config. Defaults are used when empty")
	minConfidence = flag.Float64("min-confidence", 0.3, "Detections with lower confidence are ignored")
	logLevel      = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

const (
	// Max size of a single input line
	maxLineSize = 10 << 20
	// Frames buffered per camera between reader and tracker
	frameQueueSize = 16
)

func main() {
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := mot.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = mot.LoadConfig(*configPath)
		if err != nil {
			logger.Error("can't load config", slog.String("path", *configPath), slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, cfg, *minConfidence, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("tracking failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// run reads frames from in, tracks them per camera and writes annotated lines to out.
// Lines of a single camera keep their order; lines of different cameras may interleave.
func run(ctx context.Context, in io.Reader, out io.Writer, cfg mot.Config, minConfidence float64, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		workersWG sync.WaitGroup
		errOnce   sync.Once
		firstErr  error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	lines := make(chan string, frameQueueSize)
	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		w := bufio.NewWriter(out)
		var writeErr error
		// Lines are drained after failure so workers never block on send
		for line := range lines {
			if writeErr != nil {
				continue
			}
			if _, writeErr = w.WriteString(line); writeErr == nil {
				if writeErr = w.WriteByte('\n'); writeErr == nil {
					writeErr = w.Flush()
				}
			}
			if writeErr != nil {
				fail(errors.Wrap(writeErr, "Can't write output"))
			}
		}
	}()

	streams := make(map[int64]*cameraStream)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
readLoop:
	for scanner.Scan() {
		raw := scanner.Text()
		if !gjson.Valid(raw) {
			logger.Warn("invalid JSON line skipped")
			continue
		}
		cameraID := gjson.Get(raw, "camera.id").Int()
		stream, ok := streams[cameraID]
		if !ok {
			var err error
			stream, err = newCameraStream(cfg, cameraID, logger)
			if err != nil {
				fail(errors.Wrapf(err, "Can't create tracker for camera %d", cameraID))
				break
			}
			streams[cameraID] = stream
			workersWG.Add(1)
			go func() {
				defer workersWG.Done()
				if err := stream.serve(ctx, lines); err != nil && !errors.Is(err, context.Canceled) {
					fail(errors.Wrapf(err, "Camera %d", stream.cameraID))
				}
			}()
		}
		frame, pending, ok := stream.parse(raw, minConfidence)
		if !ok {
			continue
		}
		select {
		case stream.pending <- pending:
		case <-ctx.Done():
			break readLoop
		}
		select {
		case stream.frames <- frame:
		case <-ctx.Done():
			break readLoop
		}
	}
	if err := scanner.Err(); err != nil {
		fail(errors.Wrap(err, "Can't read input"))
	}

	for _, stream := range streams {
		close(stream.frames)
	}
	workersWG.Wait()
	close(lines)
	writerWG.Wait()
	return firstErr
}
