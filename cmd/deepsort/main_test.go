package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Duy-Cao-Vo/Head-detection-Deep-sort/mot"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

func runLines(t *testing.T, input []string) []string {
	t.Helper()
	cfg := mot.DefaultConfig()
	cfg.NInit = 2
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var out bytes.Buffer
	err := run(context.Background(), strings.NewReader(strings.Join(input, "\n")), &out, cfg, 0.3, logger)
	if err != nil {
		t.Fatal(err)
	}
	output := strings.TrimSpace(out.String())
	if output == "" {
		return []string{}
	}
	return strings.Split(output, "\n")
}

func TestRunAnnotates(t *testing.T) {
	frame := `{"camera":{"id":1},"frame":%FRAME%,"items":[` +
		`{"bbox":[100,100,40,80],"confidence":0.9,"feature":[1,0,0]},` +
		`{"bbox":[400,400,40,80],"confidence":0.1,"feature":[0,1,0]}]}`
	input := []string{
		strings.ReplaceAll(frame, "%FRAME%", "1"),
		"not a json",
		strings.ReplaceAll(frame, "%FRAME%", "1"),
		strings.ReplaceAll(frame, "%FRAME%", "2"),
	}
	lines := runLines(t, input)
	if len(lines) != 2 {
		t.Fatalf("Expected 2 output lines, got %d: %v", len(lines), lines)
	}

	first := gjson.Parse(lines[0])
	if first.Get("tracks.#").Int() != 0 {
		t.Errorf("Tentative track should not be reported: %s", lines[0])
	}
	if first.Get("items.0.id").Exists() {
		t.Errorf("Item of tentative track should not get id: %s", lines[0])
	}

	second := gjson.Parse(lines[1])
	if second.Get("frame").Int() != 2 {
		t.Errorf("Wrong frame order: %s", lines[1])
	}
	if second.Get("tracks.#").Int() != 1 || second.Get("tracks.0.id").Int() != 1 {
		t.Errorf("Confirmed track should be reported: %s", lines[1])
	}
	if second.Get("tracks.0.state").String() != "confirmed" {
		t.Errorf("Wrong track state: %s", lines[1])
	}
	if second.Get("items.0.id").Int() != 1 {
		t.Errorf("Item should be annotated with track id: %s", lines[1])
	}
	if second.Get("items.1.id").Exists() {
		t.Errorf("Low confidence item should not be tracked: %s", lines[1])
	}
	if second.Get("items.1.feature.#").Int() != 3 {
		t.Errorf("Input fields should be kept: %s", lines[1])
	}
}

func TestRunCameras(t *testing.T) {
	input := []string{
		`{"camera":{"id":1},"items":[{"bbox":[10,10,20,40],"feature":[1,0]}]}`,
		`{"camera":{"id":2},"items":[{"bbox":[300,300,20,40],"feature":[0,1]}]}`,
		`{"camera":{"id":1},"items":[{"bbox":[10,10,20,40],"feature":[1,0]}]}`,
		`{"camera":{"id":2},"items":[{"bbox":[300,300,20,40],"feature":[0,1]}]}`,
	}
	lines := runLines(t, input)
	if len(lines) != 4 {
		t.Fatalf("Expected 4 output lines, got %d: %v", len(lines), lines)
	}
	perCamera := make(map[int64][]gjson.Result)
	for _, line := range lines {
		parsed := gjson.Parse(line)
		cameraID := parsed.Get("camera.id").Int()
		perCamera[cameraID] = append(perCamera[cameraID], parsed)
	}
	for _, cameraID := range []int64{1, 2} {
		results := perCamera[cameraID]
		if len(results) != 2 {
			t.Fatalf("Camera %d: expected 2 lines, got %d", cameraID, len(results))
		}
		// Every camera has its own identifiers
		if id := results[1].Get("items.0.id").Int(); id != 1 {
			t.Errorf("Camera %d: expected id 1, got %d", cameraID, id)
		}
	}
}

var errClosedOutput = errors.New("output closed")

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errClosedOutput
}

func TestRunWriteError(t *testing.T) {
	input := []string{
		`{"camera":{"id":1},"items":[{"bbox":[10,10,20,40],"feature":[1,0]}]}`,
		`{"camera":{"id":1},"items":[{"bbox":[10,10,20,40],"feature":[1,0]}]}`,
		`{"camera":{"id":1},"items":[{"bbox":[10,10,20,40],"feature":[1,0]}]}`,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := run(context.Background(), strings.NewReader(strings.Join(input, "\n")), failingWriter{}, mot.DefaultConfig(), 0.3, logger)
	if !errors.Is(err, errClosedOutput) {
		t.Errorf("Expected write error, got %v", err)
	}
}
