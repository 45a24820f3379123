package main

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"el133/internal/config"
	"el133/internal/display"
	"el133/internal/epd"
	"el133/internal/frame"
	"el133/internal/panel"
	"el133/internal/web"
)

func newTestPanel(t *testing.T) (*panel.Panel, *epd.FakeTransport) {
	t.Helper()
	ft := epd.NewFakeTransport()
	d, err := display.New(ft, epd.WithSleep(func(time.Duration) {}))
	require.NoError(t, err)
	ft.ResetLog()
	p := panel.New(d)
	t.Cleanup(func() { _ = p.Close() })
	return p, ft
}

func TestApplyFlags(t *testing.T) {
	conf := config.DefaultConfig()
	conf.Source.CaptureURL = "http://dash/"

	err := applyFlags(conf, flagConfig{
		listen:    ":9000",
		transport: config.TransportFake,
		image:     "/tmp/x.png",
		fit:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, ":9000", conf.Listen)
	assert.Equal(t, config.TransportFake, conf.Transport)
	assert.Equal(t, "/tmp/x.png", conf.Source.ImagePath)
	assert.Empty(t, conf.Source.CaptureURL, "-image replaces the capture source")
	assert.True(t, conf.Source.Fit)
}

func TestApplyFlagsRejects(t *testing.T) {
	assert.Error(t, applyFlags(config.DefaultConfig(), flagConfig{transport: "serial"}))
	assert.Error(t, applyFlags(config.DefaultConfig(), flagConfig{once: true, clear: true}))
	assert.Error(t, applyFlags(config.DefaultConfig(), flagConfig{clear: true, pattern: patternStripes}))
	assert.ErrorContains(t, applyFlags(config.DefaultConfig(), flagConfig{pattern: "checkerboard"}), "unknown -pattern")
	assert.ErrorContains(t, applyFlags(config.DefaultConfig(), flagConfig{post: "http://pi:8080"}), "-post needs")
	assert.NoError(t, applyFlags(config.DefaultConfig(), flagConfig{post: "http://pi:8080", image: "/tmp/x.png"}))
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs symlinks")
	}
	// The parent is a dangling symlink: the file reads as missing but the
	// default file cannot be written.
	dir := t.TempDir()
	parent := filepath.Join(dir, "etc")
	require.NoError(t, os.Symlink(filepath.Join(dir, "nowhere", "deeper"), parent))

	conf, err := loadConfig(filepath.Join(parent, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), conf)
}

func TestLoadConfigRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport: usb3\n"), 0o600))

	conf, err := loadConfig(path)
	assert.Error(t, err)
	assert.Nil(t, conf)
}

func TestRunOnceStripes(t *testing.T) {
	p, ft := newTestPanel(t)

	err := runOnce(context.Background(), config.DefaultConfig(), p, flagConfig{pattern: patternStripes})
	require.NoError(t, err)
	assert.Equal(t, "pattern:stripes", p.Status().Source)
	require.Len(t, ft.Commands(), 5)

	// Columns map to rows after rotation: the first payload A row is the
	// last column of the frame, which belongs to the green stripe, and the
	// last row is column 0, black.
	a := ft.Commands()[0].Payload
	assert.Equal(t, byte(0x66), a[0])
	assert.Equal(t, byte(0x00), a[len(a)-1])
}

func TestDrawStripes(t *testing.T) {
	p, _ := newTestPanel(t)
	var got *frame.Buffer
	require.NoError(t, p.Paint("t", func(d *display.Driver) error {
		if err := drawPattern(d, patternStripes); err != nil {
			return err
		}
		got = d.Frame()
		return nil
	}))

	cases := map[int]frame.Color{
		0: frame.Black, 265: frame.Black,
		266: frame.White, 532: frame.Yellow, 798: frame.Red,
		1064: frame.Blue, 1330: frame.Green, 1599: frame.Green,
	}
	for x, want := range cases {
		for _, y := range []int{0, 1199} {
			c, err := got.Get(x, y)
			require.NoError(t, err)
			assert.Equal(t, want, c, "x=%d y=%d", x, y)
		}
	}

	assert.Error(t, drawPattern(nil, "plaid"))
}

func TestScheduledRefresh(t *testing.T) {
	p, ft := newTestPanel(t)
	load := func(context.Context) (*frame.Buffer, string, error) {
		f := frame.New()
		return f, "job", f.Fill(frame.Red)
	}

	scheduledRefresh(p, load)()
	assert.Equal(t, 1, p.Status().Refreshes)
	assert.Equal(t, "job", p.Status().Source)

	// A failing commit is reported in the status and does not panic the job.
	ft.ResetLog()
	ft.FailWriteAt = 1
	scheduledRefresh(p, load)()
	assert.Equal(t, 1, p.Status().Refreshes)
	assert.Contains(t, p.Status().LastError, "injected")

	scheduledRefresh(p, func(context.Context) (*frame.Buffer, string, error) {
		return nil, "", errors.New("capture failed")
	})()
	assert.Equal(t, 1, p.Status().Refreshes)
}

func writeImage(t *testing.T, w, h int, c color.Color) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.png")
	require.NoError(t, imaging.Save(imaging.New(w, h, c), path))
	return path
}

func TestPostImage(t *testing.T) {
	p, ft := newTestPanel(t)
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	srv := httptest.NewServer(web.NewServer(cfg, p, nil, nil).Handler())
	defer srv.Close()

	// 800x600 fits exactly after a 2x upscale.
	img := writeImage(t, 800, 600, color.NRGBA{250, 240, 20, 255})
	require.NoError(t, postImage(context.Background(), srv.Client(), srv.URL, img, cfg.BasicAuth))

	assert.Equal(t, "upload", p.Status().Source)
	cmds := ft.Commands()
	require.Len(t, cmds, 5)
	assert.Equal(t, bytes.Repeat([]byte{0x22}, len(cmds[0].Payload)), cmds[0].Payload)

	err := postImage(context.Background(), srv.Client(), srv.URL, img, nil)
	assert.ErrorContains(t, err, "401")
}

func TestPostImageServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/base/api/display", r.URL.Path)
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		http.Error(w, "panel closed", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	img := writeImage(t, 10, 10, color.White)
	err := postImage(context.Background(), srv.Client(), srv.URL+"/base", img, nil)
	assert.ErrorContains(t, err, "503")
	assert.ErrorContains(t, err, "panel closed")

	err = postImage(context.Background(), srv.Client(), srv.URL, filepath.Join(t.TempDir(), "missing.png"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewScheduler(t *testing.T) {
	c, err := newScheduler("", func() {})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = newScheduler("*/5 * * * *", func() {})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Len(t, c.Entries(), 1)

	_, err = newScheduler("every tuesday", func() {})
	assert.ErrorContains(t, err, "invalid refresh schedule")
}

func TestDumpArtifacts(t *testing.T) {
	p, _ := newTestPanel(t)

	dir := filepath.Join(t.TempDir(), "out")

	// Before any commit there is no preview to write.
	require.NoError(t, dumpArtifacts(dir, p))
	_, err := os.Stat(filepath.Join(dir, "preview.png"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, p.Clear())
	require.NoError(t, dumpArtifacts(dir, p))

	a, err := os.ReadFile(filepath.Join(dir, "a.bin"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "b.bin"))
	require.NoError(t, err)
	assert.Len(t, a, 480000)
	assert.Len(t, b, 480000)
	assert.Equal(t, byte(0x11), a[0])

	png, err := os.ReadFile(filepath.Join(dir, "preview.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}
