package service

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mosquitoserver/internal/apperr"
	"mosquitoserver/internal/config"
	"mosquitoserver/internal/density"
	"mosquitoserver/internal/detect"
	"mosquitoserver/internal/dto"
	"mosquitoserver/internal/logger"
	"mosquitoserver/internal/metrics"
	"mosquitoserver/internal/model"
	"mosquitoserver/internal/repository"
	"mosquitoserver/internal/repository/sqlite"
	"mosquitoserver/internal/service/inference"
	"mosquitoserver/internal/service/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImages struct {
	calls int
	res   *inference.ImageResult
	err   error
	block chan struct{}
	start chan struct{}
	panic bool
}

func (f *fakeImages) Run(ctx context.Context, path string, area *density.Area, conf float64) (*inference.ImageResult, error) {
	f.calls++
	if f.start != nil {
		close(f.start)
	}
	if f.block != nil {
		<-f.block
	}
	if f.panic {
		panic("detector crashed")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type fakeVideos struct {
	mu       sync.Mutex
	workDirs []string
	block    bool
	res      inference.VideoResult
}

func (f *fakeVideos) Run(ctx context.Context, path string, opts inference.VideoOptions) (*inference.VideoResult, error) {
	f.mu.Lock()
	f.workDirs = append(f.workDirs, opts.WorkDir)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, apperr.FromContext(ctx.Err())
	}
	if err := os.MkdirAll(opts.WorkDir, 0755); err != nil {
		return nil, err
	}
	artifact := filepath.Join(opts.WorkDir, "input.avi")
	if err := os.WriteFile(artifact, []byte("avi"), 0644); err != nil {
		return nil, err
	}
	if opts.Progress != nil {
		opts.Progress(0, 2)
	}
	res := f.res
	res.ArtifactPath = artifact
	return &res, nil
}

type fakeTranscoder struct {
	err error
}

func (f fakeTranscoder) ConvertContainer(ctx context.Context, in string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	out := strings.TrimSuffix(in, filepath.Ext(in)) + ".mp4"
	return out, os.WriteFile(out, []byte("mp4"), 0644)
}

type recordingHub struct {
	mu     sync.Mutex
	events []dto.ProgressEvent
}

func (h *recordingHub) Publish(event dto.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHub) last() dto.ProgressEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[len(h.events)-1]
}

type testEnv struct {
	manager *Manager
	deps    Deps
	cfg     *config.Config
	hub     *recordingHub
	root    string
}

type failingResults struct {
	repository.ResultRepository
}

func (failingResults) Insert(*model.Result) error {
	return errors.New("database is locked")
}

func newTestEnv(t *testing.T, images ImageRunner, videos VideoRunner, transcoder Transcoder, tune func(*config.Config)) *testEnv {
	t.Helper()

	cfg := &config.Config{
		WorkDirectory:     t.TempDir(),
		LogDirectory:      t.TempDir(),
		ArtifactTTL:       time.Hour,
		ProcessingWorkers: 2,
		QueueSize:         4,
		JobTimeout:        5 * time.Second,
	}
	if tune != nil {
		tune(cfg)
	}

	lg := logger.NewLogger(cfg)
	t.Cleanup(func() { lg.Close() })

	db, err := sqlite.New(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hub := &recordingHub{}
	deps := Deps{
		Images:     images,
		Videos:     videos,
		Transcoder: transcoder,
		Artifacts:  storage.NewArtifactStore(cfg, lg),
		Results:    sqlite.NewResultRepository(db),
		Detections: sqlite.NewDetectionRepository(db),
		Hub:        hub,
		Metrics:    metrics.New(),
		Logger:     lg,
	}
	m := NewManager(deps, cfg)
	t.Cleanup(m.Stop)

	return &testEnv{manager: m, deps: deps, cfg: cfg, hub: hub, root: cfg.WorkDirectory}
}

func threeMosquitoes() *inference.ImageResult {
	dets := detect.Detections{
		{XMin: 1, YMin: 1, XMax: 4, YMax: 4, ClassName: "mosquito", Confidence: 0.9, TrackID: -1},
		{XMin: 5, YMin: 5, XMax: 8, YMax: 8, ClassName: "mosquito", Confidence: 0.8, TrackID: -1},
		{XMin: 9, YMin: 1, XMax: 12, YMax: 4, ClassName: "mosquito", Confidence: 0.7, TrackID: -1},
	}
	return &inference.ImageResult{
		TotalCount: 3,
		Density:    1.0,
		Area:       density.Area{Length: 2, Width: 1.5},
		Detections: dets,
		Annotated:  image.NewRGBA(image.Rect(0, 0, 16, 16)),
	}
}

func dirCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestManager_SubmitImage(t *testing.T) {
	images := &fakeImages{res: threeMosquitoes()}
	env := newTestEnv(t, images, &fakeVideos{}, fakeTranscoder{}, nil)

	resp, err := env.manager.SubmitImage(context.Background(), ImageRequest{
		FileName: "trap.JPG",
		Body:     strings.NewReader("jpeg"),
		Unit:     density.Centimeters,
	})
	require.NoError(t, err)

	assert.Equal(t, "image", resp.Kind)
	assert.Equal(t, 3, resp.TotalCount)
	assert.Equal(t, 1.0, resp.Density)
	assert.InDelta(t, 0.0001, resp.DensityPerUnit, 1e-12)
	assert.True(t, resp.AreaValid)
	assert.Equal(t, "cm", resp.Unit)
	assert.Len(t, resp.Detections, 3)
	assert.Nil(t, resp.Detections[0].TrackID)
	assert.Equal(t, "/api/results/download?id="+resp.ID, resp.DownloadURL)

	path, err := env.manager.Artifact(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.root, resp.ID, ImageArtifactName), path)
	assert.FileExists(t, path)

	stored, err := env.manager.Result(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.TotalCount)
	assert.Len(t, stored.Detections, 3)
}

func TestManager_PixelFallbackReportsPixels(t *testing.T) {
	res := threeMosquitoes()
	res.PixelArea = true
	res.Area = density.Area{Length: 10, Width: 20}
	res.Density = 3.0 / 200
	env := newTestEnv(t, &fakeImages{res: res}, &fakeVideos{}, nil, nil)

	resp, err := env.manager.SubmitImage(context.Background(), ImageRequest{FileName: "a.png", Body: strings.NewReader("png")})
	require.NoError(t, err)
	assert.Equal(t, "px", resp.Unit)
	assert.Equal(t, resp.Density, resp.DensityPerUnit)
}

func TestManager_RejectsUnsupportedTypeBeforeInference(t *testing.T) {
	images := &fakeImages{res: threeMosquitoes()}
	env := newTestEnv(t, images, &fakeVideos{}, nil, nil)

	_, err := env.manager.SubmitImage(context.Background(), ImageRequest{FileName: "anim.gif", Body: strings.NewReader("gif")})
	assert.ErrorIs(t, err, apperr.ErrUnsupportedFileType)

	_, err = env.manager.SubmitVideo(context.Background(), VideoRequest{FileName: "clip.jpg", Body: strings.NewReader("jpg")})
	assert.ErrorIs(t, err, apperr.ErrUnsupportedFileType)

	assert.Equal(t, 0, images.calls)
	assert.Equal(t, 0, dirCount(t, env.root))
}

func TestManager_SubmitVideoTranscodes(t *testing.T) {
	videos := &fakeVideos{res: inference.VideoResult{
		TotalCount:   2,
		PeakCount:    5,
		UniqueTracks: 4,
		Frames:       30,
		Density:      0.5,
		Area:         density.Area{Length: 2, Width: 2},
	}}
	env := newTestEnv(t, &fakeImages{}, videos, fakeTranscoder{}, nil)

	resp, err := env.manager.SubmitVideo(context.Background(), VideoRequest{
		FileName:  "clip.avi",
		Body:      strings.NewReader("avi"),
		Tracking:  true,
		Transcode: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, resp.TotalCount)
	assert.Equal(t, 5, resp.PeakCount)
	assert.Equal(t, 4, resp.UniqueTracks)
	assert.True(t, resp.Tracking)

	path, err := env.manager.Artifact(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, ".mp4", filepath.Ext(path))

	require.Len(t, videos.workDirs, 1)
	assert.Equal(t, filepath.Join(env.root, resp.ID, videoOutputDir), videos.workDirs[0])

	done := env.hub.last()
	assert.True(t, done.Done)
	assert.Equal(t, resp.ID, done.Job)
	assert.Empty(t, done.Error)
}

func TestManager_VideoJobsUseDistinctDirectories(t *testing.T) {
	videos := &fakeVideos{}
	env := newTestEnv(t, &fakeImages{}, videos, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.manager.SubmitVideo(context.Background(), VideoRequest{FileName: "clip.mp4", Body: strings.NewReader("mp4")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, videos.workDirs, 2)
	assert.NotEqual(t, videos.workDirs[0], videos.workDirs[1])
}

func TestManager_TranscodeFailureRemovesJob(t *testing.T) {
	transcoder := fakeTranscoder{err: errors.Join(apperr.ErrTranscode, errors.New("libx264 missing"))}
	env := newTestEnv(t, &fakeImages{}, &fakeVideos{}, transcoder, nil)

	_, err := env.manager.SubmitVideo(context.Background(), VideoRequest{FileName: "clip.mov", Body: strings.NewReader("mov"), Transcode: true})
	assert.ErrorIs(t, err, apperr.ErrTranscode)
	assert.Equal(t, 0, dirCount(t, env.root))
	assert.NotEmpty(t, env.hub.last().Error)
}

func TestManager_JobTimeout(t *testing.T) {
	env := newTestEnv(t, &fakeImages{}, &fakeVideos{block: true}, nil, func(cfg *config.Config) {
		cfg.JobTimeout = 20 * time.Millisecond
	})

	_, err := env.manager.SubmitVideo(context.Background(), VideoRequest{FileName: "clip.mp4", Body: strings.NewReader("mp4")})
	assert.ErrorIs(t, err, apperr.ErrTimeout)
}

func TestManager_QueueFull(t *testing.T) {
	images := &fakeImages{res: threeMosquitoes(), block: make(chan struct{}), start: make(chan struct{})}
	env := newTestEnv(t, images, &fakeVideos{}, nil, func(cfg *config.Config) {
		cfg.ProcessingWorkers = 1
		cfg.QueueSize = 0
	})

	first := make(chan error, 1)
	go func() {
		_, err := env.manager.SubmitImage(context.Background(), ImageRequest{FileName: "a.jpg", Body: strings.NewReader("a")})
		first <- err
	}()
	<-images.start

	_, err := env.manager.SubmitImage(context.Background(), ImageRequest{FileName: "b.jpg", Body: strings.NewReader("b")})
	assert.ErrorIs(t, err, apperr.ErrQueueFull)

	close(images.block)
	assert.NoError(t, <-first)
	assert.Equal(t, 1, dirCount(t, env.root))
}

func TestManager_RecoversFromPanic(t *testing.T) {
	env := newTestEnv(t, &fakeImages{panic: true}, &fakeVideos{}, nil, nil)

	_, err := env.manager.SubmitImage(context.Background(), ImageRequest{FileName: "a.jpg", Body: strings.NewReader("a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestManager_DeleteAndClear(t *testing.T) {
	env := newTestEnv(t, &fakeImages{res: threeMosquitoes()}, &fakeVideos{}, nil, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		resp, err := env.manager.SubmitImage(context.Background(), ImageRequest{FileName: "a.jpg", Body: strings.NewReader("a")})
		require.NoError(t, err)
		ids = append(ids, resp.ID)
	}

	require.NoError(t, env.manager.Delete(ids[0]))
	_, err := env.manager.Result(ids[0])
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = env.manager.Artifact(ids[0])
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, env.manager.Delete(ids[0]), apperr.ErrNotFound)

	require.NoError(t, env.manager.Clear())
	assert.Equal(t, 0, dirCount(t, env.root))
	count, err := env.deps.Results.GetTotalCount(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestManager_StoppedRejectsJobs(t *testing.T) {
	env := newTestEnv(t, &fakeImages{res: threeMosquitoes()}, &fakeVideos{}, nil, nil)
	env.manager.Stop()

	_, err := env.manager.SubmitImage(context.Background(), ImageRequest{FileName: "a.jpg", Body: strings.NewReader("a")})
	assert.ErrorIs(t, err, apperr.ErrQueueFull)
}

func TestManager_StoreFailureFailsJob(t *testing.T) {
	env := newTestEnv(t, &fakeImages{res: threeMosquitoes()}, &fakeVideos{}, nil, nil)
	deps := env.deps
	deps.Results = failingResults{env.deps.Results}
	m := NewManager(deps, env.cfg)
	t.Cleanup(m.Stop)

	resp, err := m.SubmitImage(context.Background(), ImageRequest{FileName: "a.jpg", Body: strings.NewReader("a")})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Nil(t, resp)
	assert.Equal(t, 0, dirCount(t, env.root))
}

func TestManager_DeleteRemovesDetections(t *testing.T) {
	env := newTestEnv(t, &fakeImages{res: threeMosquitoes()}, &fakeVideos{}, nil, nil)

	resp, err := env.manager.SubmitImage(context.Background(), ImageRequest{FileName: "a.jpg", Body: strings.NewReader("a")})
	require.NoError(t, err)

	require.NoError(t, env.manager.Delete(resp.ID))
	dets, err := env.deps.Detections.GetByResultID(resp.ID)
	require.NoError(t, err)
	assert.Empty(t, dets)
}
