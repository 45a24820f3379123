package panel

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"el133/internal/capture"
	"el133/internal/config"
	"el133/internal/display"
	"el133/internal/epd"
	"el133/internal/frame"
)

func newTestPanel(t *testing.T) (*Panel, *epd.FakeTransport) {
	t.Helper()
	ft := epd.NewFakeTransport()
	d, err := display.New(ft, epd.WithSleep(func(time.Duration) {}))
	require.NoError(t, err)
	ft.ResetLog()
	return New(d), ft
}

func TestDisplayUpdatesStatusAndPreview(t *testing.T) {
	p, ft := newTestPanel(t)
	assert.Nil(t, p.Preview())
	assert.Equal(t, "ready", p.Status().State)

	f := frame.New()
	require.NoError(t, f.Fill(frame.Blue))
	require.NoError(t, p.Display(f, "unit"))

	st := p.Status()
	assert.Equal(t, "ready", st.State)
	assert.False(t, st.Refreshing)
	assert.Equal(t, "unit", st.Source)
	assert.Equal(t, 1, st.Refreshes)
	assert.Empty(t, st.LastError)
	assert.False(t, st.LastRefresh.IsZero())

	img, err := png.Decode(bytes.NewReader(p.Preview()))
	require.NoError(t, err)
	assert.Equal(t, 1600, img.Bounds().Dx())
	r, g, b, _ := img.At(10, 10).RGBA()
	assert.Equal(t, []uint32{0, 0, 0xFFFF}, []uint32{r, g, b})

	assert.Len(t, ft.Commands(), 5)
}

func TestPaintDrawsThroughDriver(t *testing.T) {
	p, ft := newTestPanel(t)

	require.NoError(t, p.Paint("dot", func(d *display.Driver) error {
		return d.SetPixel(0, 0, frame.Red)
	}))
	assert.Equal(t, "dot", p.Status().Source)
	require.Len(t, ft.Commands(), 5)

	// Pixel (0,0) rotates to the first pixel of the last row of payload A.
	a := ft.Commands()[0].Payload
	assert.Equal(t, byte(0x31), a[len(a)-frame.SplitColumn/2])

	ft.ResetLog()
	err := p.Paint("bad", func(d *display.Driver) error {
		return d.SetPixel(0, 0, frame.Color(4))
	})
	assert.ErrorIs(t, err, frame.ErrInvalidColor)
	assert.Empty(t, ft.Commands())
	assert.Equal(t, 1, p.Status().Refreshes)
}

func TestDisplayFailureIsRecordedAndRecovered(t *testing.T) {
	p, ft := newTestPanel(t)

	ft.FailWriteAt = 1
	err := p.Display(frame.New(), "first")
	require.ErrorIs(t, err, epd.ErrFakeFault)

	st := p.Status()
	assert.Equal(t, "uninitialized", st.State)
	assert.Contains(t, st.LastError, "injected")
	assert.Zero(t, st.Refreshes)
	assert.Nil(t, p.Preview())

	// The next commit resets and re-initializes before showing.
	ft.FailWriteAt = 0
	ft.ResetLog()
	require.NoError(t, p.Clear())

	cmds := ft.Commands()
	seq := epd.InitSequence()
	require.Len(t, cmds, len(seq)+5)
	assert.Equal(t, seq, cmds[:len(seq)])
	assert.Equal(t, epd.CmdDTM, cmds[len(seq)].ID)
	assert.Empty(t, p.Status().LastError)
	assert.Equal(t, 1, p.Status().Refreshes)
}

func TestDisplayRejectsWrongSize(t *testing.T) {
	p, ft := newTestPanel(t)
	err := p.Display(frame.NewSize(4, 4, 2), "tiny")
	assert.ErrorIs(t, err, frame.ErrSizeMismatch)
	assert.Empty(t, ft.Commands())
}

func TestCommitsAreSerialized(t *testing.T) {
	p, ft := newTestPanel(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Clear())
		}()
	}
	wg.Wait()

	// Interleaving would break the fake's command decoding.
	cmds := ft.Commands()
	require.Len(t, cmds, 20)
	for i := 0; i < 20; i += 5 {
		assert.Equal(t, epd.CmdDTM, cmds[i].ID)
		assert.Equal(t, epd.CmdPOF, cmds[i+4].ID)
	}
	assert.Equal(t, 4, p.Status().Refreshes)
}

func TestCloseWaitsAndRejects(t *testing.T) {
	p, ft := newTestPanel(t)
	require.NoError(t, p.Close())
	assert.True(t, ft.Closed())
	assert.Equal(t, "closed", p.Status().State)
	assert.ErrorIs(t, p.Clear(), ErrClosed)
	_, _, err := p.Payloads()
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, p.Close())
}

func TestPayloads(t *testing.T) {
	p, _ := newTestPanel(t)
	a, b, err := p.Payloads()
	require.NoError(t, err)
	assert.Len(t, a, 480000)
	assert.Len(t, b, 480000)
}

func writePNG(t *testing.T, w, h int, c color.Color) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.png")
	require.NoError(t, imaging.Save(imaging.New(w, h, c), path))
	return path
}

func TestLoadSourceImage(t *testing.T) {
	path := writePNG(t, 1600, 1200, color.NRGBA{255, 0, 0, 255})

	f, label, err := LoadSource(context.Background(), config.SourceConfig{ImagePath: path}, nil)
	require.NoError(t, err)
	assert.Equal(t, path, label)
	c, err := f.Get(100, 100)
	require.NoError(t, err)
	assert.Equal(t, frame.Red, c)
}

func TestLoadSourceImageNeedsFit(t *testing.T) {
	path := writePNG(t, 400, 300, color.Black)

	_, _, err := LoadSource(context.Background(), config.SourceConfig{ImagePath: path}, nil)
	assert.ErrorContains(t, err, "expected 1600x1200")

	f, _, err := LoadSource(context.Background(), config.SourceConfig{ImagePath: path, Fit: true}, nil)
	require.NoError(t, err)
	c, err := f.Get(800, 600)
	require.NoError(t, err)
	assert.Equal(t, frame.Black, c)
}

func TestLoadSourceMissingFile(t *testing.T) {
	_, _, err := LoadSource(context.Background(), config.SourceConfig{ImagePath: filepath.Join(t.TempDir(), "nope.png")}, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadSourceCapturePreferred(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, imaging.New(1600, 1200, color.NRGBA{0, 255, 0, 255})))

	var got capture.Options
	grab := func(_ context.Context, opts capture.Options) ([]byte, error) {
		got = opts
		return buf.Bytes(), nil
	}
	src := config.SourceConfig{ImagePath: "/does/not/matter.png", CaptureURL: "http://dash.local/", WaitReady: true}

	f, label, err := LoadSource(context.Background(), src, grab)
	require.NoError(t, err)
	assert.Equal(t, "http://dash.local/", label)
	assert.Equal(t, "http://dash.local/", got.URL)
	assert.True(t, got.WaitReady)
	c, err := f.Get(0, 0)
	require.NoError(t, err)
	assert.Equal(t, frame.Green, c)

	boom := errors.New("chromium missing")
	_, _, err = LoadSource(context.Background(), src, func(context.Context, capture.Options) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestLoadSourceNone(t *testing.T) {
	_, _, err := LoadSource(context.Background(), config.SourceConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoSource)
}
