package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"mosquitoserver/internal/apperr"
	"mosquitoserver/internal/config"
	"mosquitoserver/internal/density"
	"mosquitoserver/internal/detect"
	"mosquitoserver/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModel returns canned boxes per frame and, when saving, writes one file into SaveDir.
type fakeModel struct {
	frames         [][]detect.Box
	skipSave       bool
	blockUntilDone bool
	err            error
	predicts       atomic.Int32
	tracks         atomic.Int32
	lastOpts       detect.Options
}

func (m *fakeModel) Predict(ctx context.Context, source string, opts detect.Options) ([]detect.Results, error) {
	m.predicts.Add(1)
	return m.run(ctx, source, opts)
}

func (m *fakeModel) Track(ctx context.Context, source string, opts detect.Options) ([]detect.Results, error) {
	m.tracks.Add(1)
	return m.run(ctx, source, opts)
}

func (m *fakeModel) Names() map[int]string { return map[int]string{0: "mosquito"} }

func (m *fakeModel) run(ctx context.Context, source string, opts detect.Options) ([]detect.Results, error) {
	m.lastOpts = opts
	if m.blockUntilDone {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	var out []detect.Results
	for i, boxes := range m.frames {
		r := detect.Results{Path: source, Frame: i, Boxes: boxes, Names: m.Names()}
		if opts.Save {
			r.SaveDir = opts.SaveDir
		}
		out = append(out, r)
		if opts.Progress != nil {
			opts.Progress(i, len(boxes))
		}
	}
	if opts.Save && !m.skipSave {
		if err := os.WriteFile(filepath.Join(opts.SaveDir, "clip.avi"), []byte("avi"), 0644); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type staticProvider struct {
	model detect.Model
	err   error
}

func (p staticProvider) Get() (detect.Model, error) { return p.model, p.err }

func boxes(n int) []detect.Box {
	out := make([]detect.Box, n)
	for i := range out {
		x := float64(i * 2)
		out[i] = detect.Box{XYXY: [4]float64{x, x, x + 1, x + 1}, Conf: 0.8, TrackID: -1}
	}
	return out
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	lg := logger.NewLogger(&config.Config{LogDirectory: t.TempDir()})
	t.Cleanup(func() { lg.Close() })
	return lg
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{G: 128, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "trap.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

// ========================================
// Image inference
// ========================================

func TestImageService_CountAndDensity(t *testing.T) {
	model := &fakeModel{frames: [][]detect.Box{boxes(3)}}
	svc := NewImageService(staticProvider{model: model}, detect.NewBoxAnnotator(), newTestLogger(t))

	area := density.Area{Length: 2, Width: 1.5}
	res, err := svc.Run(context.Background(), writePNG(t, 20, 10), &area, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, 1.0, res.Density)
	assert.False(t, res.PixelArea)
	assert.Equal(t, DefaultConfidence, model.lastOpts.Conf)
	assert.False(t, model.lastOpts.Save)
	require.NotNil(t, res.Annotated)
	assert.Equal(t, image.Rect(0, 0, 20, 10), res.Annotated.Bounds())
}

func TestImageService_FallsBackToPixelDimensions(t *testing.T) {
	model := &fakeModel{frames: [][]detect.Box{boxes(5)}}
	svc := NewImageService(staticProvider{model: model}, detect.NewBoxAnnotator(), newTestLogger(t))

	res, err := svc.Run(context.Background(), writePNG(t, 20, 10), nil, 0.5)
	require.NoError(t, err)

	assert.True(t, res.PixelArea)
	assert.Equal(t, density.Area{Length: 10, Width: 20}, res.Area)
	assert.Equal(t, 5.0/200.0, res.Density)
	assert.Equal(t, 0.5, model.lastOpts.Conf)
}

func TestImageService_ZeroAreaGivesZeroDensity(t *testing.T) {
	model := &fakeModel{frames: [][]detect.Box{boxes(4)}}
	svc := NewImageService(staticProvider{model: model}, detect.NewBoxAnnotator(), newTestLogger(t))

	area := density.Area{Length: 0, Width: 3}
	res, err := svc.Run(context.Background(), writePNG(t, 8, 8), &area, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, res.TotalCount)
	assert.Equal(t, 0.0, res.Density)
}

func TestImageService_Idempotent(t *testing.T) {
	model := &fakeModel{frames: [][]detect.Box{boxes(2)}}
	svc := NewImageService(staticProvider{model: model}, detect.NewBoxAnnotator(), newTestLogger(t))
	path := writePNG(t, 16, 16)

	first, err := svc.Run(context.Background(), path, nil, 0.25)
	require.NoError(t, err)
	second, err := svc.Run(context.Background(), path, nil, 0.25)
	require.NoError(t, err)
	assert.Equal(t, first.TotalCount, second.TotalCount)
}

func TestImageService_ModelLoadError(t *testing.T) {
	loadErr := fmt.Errorf("%w: weights missing", apperr.ErrModelLoad)
	svc := NewImageService(staticProvider{err: loadErr}, detect.NewBoxAnnotator(), newTestLogger(t))

	_, err := svc.Run(context.Background(), writePNG(t, 4, 4), nil, 0)
	assert.ErrorIs(t, err, apperr.ErrModelLoad)
}

func TestImageService_UnreadableImage(t *testing.T) {
	model := &fakeModel{frames: [][]detect.Box{boxes(1)}}
	svc := NewImageService(staticProvider{model: model}, detect.NewBoxAnnotator(), newTestLogger(t))

	path := filepath.Join(t.TempDir(), "broken.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0644))

	_, err := svc.Run(context.Background(), path, nil, 0)
	assert.Error(t, err)
	assert.Equal(t, int32(0), model.predicts.Load())
}

// ========================================
// Video inference
// ========================================

func TestVideoService_FirstFrameCountAndGuardedDensity(t *testing.T) {
	model := &fakeModel{frames: [][]detect.Box{boxes(0), boxes(4), boxes(2)}}
	svc := NewVideoService(staticProvider{model: model}, newTestLogger(t))

	area := density.Area{Length: 0, Width: 5}
	res, err := svc.Run(context.Background(), "clip.mp4", VideoOptions{
		Area:    &area,
		WorkDir: filepath.Join(t.TempDir(), "predict"),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.TotalCount)
	assert.Equal(t, 0.0, res.Density)
	assert.Equal(t, 3, res.Frames)
	assert.Equal(t, 4, res.PeakCount)
	assert.Equal(t, int32(1), model.predicts.Load())
	assert.Equal(t, int32(0), model.tracks.Load())
	assert.True(t, model.lastOpts.Save)
}

func TestVideoService_DensityWithArea(t *testing.T) {
	model := &fakeModel{frames: [][]detect.Box{boxes(6)}}
	svc := NewVideoService(staticProvider{model: model}, newTestLogger(t))

	area := density.Area{Length: 2, Width: 1.5}
	res, err := svc.Run(context.Background(), "clip.mp4", VideoOptions{Area: &area, WorkDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 6, res.TotalCount)
	assert.Equal(t, 2.0, res.Density)
}

func TestVideoService_MissingAreaGivesZeroDensity(t *testing.T) {
	model := &fakeModel{frames: [][]detect.Box{boxes(3)}}
	svc := NewVideoService(staticProvider{model: model}, newTestLogger(t))

	res, err := svc.Run(context.Background(), "clip.mp4", VideoOptions{WorkDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Density)
}

func TestVideoService_TrackingUsesTrack(t *testing.T) {
	model := &fakeModel{frames: [][]detect.Box{boxes(1)}}
	svc := NewVideoService(staticProvider{model: model}, newTestLogger(t))

	_, err := svc.Run(context.Background(), "clip.mp4", VideoOptions{Tracking: true, WorkDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, int32(1), model.tracks.Load())
	assert.Equal(t, int32(0), model.predicts.Load())
	assert.True(t, model.lastOpts.Persist)
}

func TestVideoService_ClearsStaleArtifacts(t *testing.T) {
	workDir := filepath.Join(t.TempDir(), "predict")
	require.NoError(t, os.MkdirAll(workDir, 0755))
	stale := filepath.Join(workDir, "previous_run.avi")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	model := &fakeModel{frames: [][]detect.Box{boxes(1)}}
	svc := NewVideoService(staticProvider{model: model}, newTestLogger(t))

	res, err := svc.Run(context.Background(), "clip.mp4", VideoOptions{WorkDir: workDir})
	require.NoError(t, err)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Join(workDir, "clip.avi"), res.ArtifactPath)
	assert.NoFileExists(t, stale)
}

func TestVideoService_ArtifactNotFound(t *testing.T) {
	model := &fakeModel{frames: [][]detect.Box{boxes(1)}, skipSave: true}
	svc := NewVideoService(staticProvider{model: model}, newTestLogger(t))

	_, err := svc.Run(context.Background(), "clip.mp4", VideoOptions{WorkDir: t.TempDir()})
	assert.ErrorIs(t, err, apperr.ErrArtifactNotFound)
}

func TestVideoService_ProgressForwarded(t *testing.T) {
	model := &fakeModel{frames: [][]detect.Box{boxes(1), boxes(2)}}
	svc := NewVideoService(staticProvider{model: model}, newTestLogger(t))

	var frames []int
	_, err := svc.Run(context.Background(), "clip.mp4", VideoOptions{
		WorkDir:  t.TempDir(),
		Progress: func(frame, n int) { frames = append(frames, n) },
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, frames)
}

func TestVideoService_TimeoutSurfacesErrTimeout(t *testing.T) {
	model := &fakeModel{blockUntilDone: true}
	svc := NewVideoService(staticProvider{model: model}, newTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	_, err := svc.Run(ctx, "clip.mp4", VideoOptions{WorkDir: t.TempDir()})
	assert.ErrorIs(t, err, apperr.ErrTimeout)
}

func TestVideoService_ModelError(t *testing.T) {
	model := &fakeModel{err: errors.New("decoder exploded")}
	svc := NewVideoService(staticProvider{model: model}, newTestLogger(t))

	_, err := svc.Run(context.Background(), "clip.mp4", VideoOptions{WorkDir: t.TempDir()})
	assert.ErrorContains(t, err, "decoder exploded")
}

func TestVideoService_RequiresWorkDir(t *testing.T) {
	svc := NewVideoService(staticProvider{model: &fakeModel{}}, newTestLogger(t))
	_, err := svc.Run(context.Background(), "clip.mp4", VideoOptions{})
	assert.Error(t, err)
}

func TestFindArtifact(t *testing.T) {
	dir := t.TempDir()
	_, err := findArtifact(dir)
	assert.ErrorIs(t, err, apperr.ErrArtifactNotFound)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "labels"), 0755))
	_, err = findArtifact(dir)
	assert.ErrorIs(t, err, apperr.ErrArtifactNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.avi"), nil, 0644))
	path, err := findArtifact(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.avi"), path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.avi"), nil, 0644))
	_, err = findArtifact(dir)
	assert.Error(t, err)

	_, err = findArtifact(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, apperr.ErrArtifactNotFound)
}
