package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mosquitoserver/internal/apperr"
	"mosquitoserver/internal/config"
	"mosquitoserver/internal/density"
	"mosquitoserver/internal/detect"
	"mosquitoserver/internal/dto"
	"mosquitoserver/internal/logger"
	"mosquitoserver/internal/media"
	"mosquitoserver/internal/metrics"
	"mosquitoserver/internal/model"
	"mosquitoserver/internal/repository"
	"mosquitoserver/internal/service/inference"
	"mosquitoserver/internal/service/storage"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const (
	// ImageArtifactName and VideoArtifactName are the download names of results.
	ImageArtifactName = "annotated_result.jpg"
	VideoArtifactName = "annotated_result.mp4"

	videoOutputDir = "output"
)

type ImageRunner interface {
	Run(ctx context.Context, path string, area *density.Area, conf float64) (*inference.ImageResult, error)
}

type VideoRunner interface {
	Run(ctx context.Context, path string, opts inference.VideoOptions) (*inference.VideoResult, error)
}

type Transcoder interface {
	ConvertContainer(ctx context.Context, in string) (string, error)
}

type ProgressPublisher interface {
	Publish(event dto.ProgressEvent)
}

// Deps are the collaborators of a Manager. Hub may be nil.
type Deps struct {
	Images     ImageRunner
	Videos     VideoRunner
	Transcoder Transcoder
	Artifacts  *storage.ArtifactStore
	Results    repository.ResultRepository
	Detections repository.DetectionRepository
	Hub        ProgressPublisher
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
}

// ImageRequest is one uploaded image.
type ImageRequest struct {
	FileName string
	Body     io.Reader
	// Area is nil when no dimensions were given; the image's pixel size is used then.
	Area *density.Area
	Unit density.Unit
	Conf float64
}

// VideoRequest is one uploaded video.
type VideoRequest struct {
	FileName  string
	Body      io.Reader
	Area      *density.Area // nil means density 0
	Unit      density.Unit
	Conf      float64
	Tracking  bool
	Transcode bool
}

type Manager struct {
	deps       Deps
	logger     *logger.Logger
	jobTimeout time.Duration
	numWorkers int

	queue   chan *task
	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

type task struct {
	id   string
	kind media.Kind
	ctx  context.Context
	run  func(ctx context.Context) (*dto.DetectionResponse, error)
	done chan taskResult
}

type taskResult struct {
	resp *dto.DetectionResponse
	err  error
}

func NewManager(deps Deps, config *config.Config) *Manager {
	workers := config.ProcessingWorkers
	if workers < 1 {
		workers = 1
	}
	queueSize := config.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}

	manager := &Manager{
		deps:       deps,
		logger:     deps.Logger,
		jobTimeout: config.JobTimeout,
		numWorkers: workers,
		queue:      make(chan *task, queueSize),
	}

	for i := 0; i < manager.numWorkers; i++ {
		manager.wg.Add(1)
		go manager.processingWorker(i)
	}

	manager.logger.Info("Manager started with %d worker(s), queue size %d", workers, queueSize)
	return manager
}

// SubmitImage validates, stores and queues an image job and waits for its result.
func (m *Manager) SubmitImage(ctx context.Context, req ImageRequest) (*dto.DetectionResponse, error) {
	ext, err := media.Validate(req.FileName, media.Image)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	job, input, err := m.prepare(id, ext, req.Body)
	if err != nil {
		return nil, err
	}

	return m.submit(ctx, id, media.Image, func(ctx context.Context) (*dto.DetectionResponse, error) {
		res, err := m.deps.Images.Run(ctx, input, req.Area, req.Conf)
		if err != nil {
			return nil, err
		}

		artifact := filepath.Join(job, ImageArtifactName)
		if err := saveJPEG(res.Annotated, artifact); err != nil {
			return nil, err
		}

		unit := req.Unit
		if res.PixelArea {
			unit = density.Pixels
		}
		record := &model.Result{
			ID:           id,
			Kind:         media.Image.String(),
			SourceName:   filepath.Base(req.FileName),
			TotalCount:   res.TotalCount,
			Density:      res.Density,
			Unit:         string(unitOrDefault(unit)),
			LengthM:      res.Area.Length,
			WidthM:       res.Area.Width,
			ArtifactPath: artifact,
			CreatedAt:    time.Now(),
		}
		return m.finish(record, res.Detections)
	})
}

// SubmitVideo validates, stores and queues a video job and waits for its result.
// Progress is published per frame while the job runs.
func (m *Manager) SubmitVideo(ctx context.Context, req VideoRequest) (*dto.DetectionResponse, error) {
	ext, err := media.Validate(req.FileName, media.Video)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	job, input, err := m.prepare(id, ext, req.Body)
	if err != nil {
		return nil, err
	}

	return m.submit(ctx, id, media.Video, func(ctx context.Context) (*dto.DetectionResponse, error) {
		res, err := m.deps.Videos.Run(ctx, input, inference.VideoOptions{
			Tracking: req.Tracking,
			Area:     req.Area,
			Conf:     req.Conf,
			WorkDir:  filepath.Join(job, videoOutputDir),
			Progress: func(frame, detections int) {
				m.publish(dto.ProgressEvent{Job: id, Frame: frame, Detections: detections})
			},
		})
		if err != nil {
			return nil, err
		}

		artifact := res.ArtifactPath
		if req.Transcode && m.deps.Transcoder != nil {
			artifact, err = m.deps.Transcoder.ConvertContainer(ctx, res.ArtifactPath)
			if err != nil {
				return nil, err
			}
		}

		record := &model.Result{
			ID:           id,
			Kind:         media.Video.String(),
			SourceName:   filepath.Base(req.FileName),
			TotalCount:   res.TotalCount,
			PeakCount:    res.PeakCount,
			UniqueTracks: res.UniqueTracks,
			Frames:       res.Frames,
			Density:      res.Density,
			Unit:         string(unitOrDefault(req.Unit)),
			LengthM:      res.Area.Length,
			WidthM:       res.Area.Width,
			Tracking:     req.Tracking,
			ArtifactPath: artifact,
			CreatedAt:    time.Now(),
		}
		return m.finish(record, res.Detections)
	})
}

// Artifact resolves the downloadable file of a result.
func (m *Manager) Artifact(id string) (string, error) {
	if path, err := m.deps.Artifacts.Lookup(id); err == nil {
		return path, nil
	}

	res, err := m.deps.Results.GetByID(id)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(res.ArtifactPath); err != nil {
		return "", fmt.Errorf("%w: artifact of %s has expired", apperr.ErrNotFound, id)
	}
	return res.ArtifactPath, nil
}

// Result returns a stored result with its detections.
func (m *Manager) Result(id string) (*dto.DetectionResponse, error) {
	res, err := m.deps.Results.GetByID(id)
	if err != nil {
		return nil, err
	}
	dets, err := m.deps.Detections.GetByResultID(id)
	if err != nil {
		return nil, err
	}
	return NewResponse(res, dets), nil
}

// Delete removes a result record, its detections and its files.
func (m *Manager) Delete(id string) error {
	if err := m.deps.Detections.DeleteByResultID(id); err != nil {
		return err
	}
	if err := m.deps.Results.Delete(id); err != nil {
		return err
	}
	if err := m.deps.Artifacts.Remove(id); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		m.logger.Warning("Error removing files of result %s: %v", id, err)
	}
	return nil
}

// Clear removes every result record and every job directory.
func (m *Manager) Clear() error {
	ids, err := m.deps.Results.GetAll(nil)
	if err != nil {
		return err
	}
	if err := m.deps.Results.DeleteAll(); err != nil {
		return err
	}
	for _, res := range ids {
		if err := m.deps.Artifacts.Remove(res.ID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			m.logger.Warning("Error removing files of result %s: %v", res.ID, err)
		}
	}
	return nil
}

// Stop stops accepting jobs and waits for the workers to drain the queue.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.queue)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("All processing workers stopped")
}

// prepare creates the job directory and writes the upload into it.
func (m *Manager) prepare(id, ext string, body io.Reader) (dir, input string, err error) {
	job, err := m.deps.Artifacts.Create(id)
	if err != nil {
		return "", "", err
	}
	input, err = m.deps.Artifacts.Save(id, "input"+ext, body)
	if err != nil {
		m.deps.Artifacts.Remove(id)
		return "", "", err
	}
	return job.Dir, input, nil
}

func (m *Manager) submit(ctx context.Context, id string, kind media.Kind, run func(context.Context) (*dto.DetectionResponse, error)) (*dto.DetectionResponse, error) {
	t := &task{id: id, kind: kind, ctx: ctx, run: run, done: make(chan taskResult, 1)}

	m.mu.RLock()
	if m.stopped {
		m.mu.RUnlock()
		m.deps.Artifacts.Remove(id)
		return nil, fmt.Errorf("%w: manager is stopped", apperr.ErrQueueFull)
	}
	m.deps.Metrics.JobSubmitted(kind.String())
	select {
	case m.queue <- t:
		m.mu.RUnlock()
	default:
		m.mu.RUnlock()
		m.deps.Metrics.JobRejected(kind.String())
		m.deps.Artifacts.Remove(id)
		m.logger.Warning("Processing queue full - rejecting %s job %s", kind, id)
		return nil, apperr.ErrQueueFull
	}

	select {
	case r := <-t.done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, apperr.FromContext(fmt.Errorf("job %s: %w", id, ctx.Err()))
	}
}

func (m *Manager) processingWorker(workerID int) {
	defer m.wg.Done()

	m.logger.Info("Processing worker %d started", workerID)

	for t := range m.queue {
		m.process(t, workerID)
	}

	m.logger.Info("Processing worker %d stopped", workerID)
}

func (m *Manager) process(t *task, workerID int) {
	m.deps.Metrics.JobStarted()
	start := time.Now()

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if m.jobTimeout > 0 {
		ctx, cancel = context.WithTimeout(t.ctx, m.jobTimeout)
	} else {
		ctx, cancel = context.WithCancel(t.ctx)
	}
	defer cancel()

	var resp *dto.DetectionResponse
	err := t.ctx.Err()
	if err == nil {
		resp, err = m.runSafe(ctx, t)
	}
	if err != nil {
		err = apperr.FromContext(err)
		m.deps.Artifacts.Remove(t.id)
		m.logger.Job(t.id, t.kind.String(), "failed on worker %d: %v", workerID, err)
	} else {
		m.logger.Job(t.id, t.kind.String(), "done on worker %d in %s: %d detections", workerID, time.Since(start).Round(time.Millisecond), resp.TotalCount)
	}

	count := 0
	if resp != nil {
		count = resp.TotalCount
	}
	m.deps.Metrics.JobFinished(t.kind.String(), time.Since(start), count, err)

	if t.kind == media.Video {
		event := dto.ProgressEvent{Job: t.id, Done: true}
		if resp != nil {
			event.Frame = resp.Frames
			event.Detections = resp.TotalCount
		}
		if err != nil {
			event.Error = err.Error()
		}
		m.publish(event)
	}

	t.done <- taskResult{resp: resp, err: err}
}

func (m *Manager) runSafe(ctx context.Context, t *task) (resp *dto.DetectionResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", t.id, r)
		}
	}()
	return t.run(ctx)
}

// finish registers the artifact, stores the record and builds the response.
func (m *Manager) finish(record *model.Result, dets detect.Detections) (*dto.DetectionResponse, error) {
	record.DensityPerUnit = density.PerUnit(record.Density, density.Unit(record.Unit))

	if err := m.deps.Artifacts.Register(record.ID, record.ArtifactPath); err != nil {
		return nil, err
	}

	rows := make([]model.Detection, len(dets))
	for i, d := range dets {
		rows[i] = model.Detection{
			ResultID:   record.ID,
			ClassID:    d.ClassID,
			Label:      d.ClassName,
			XMin:       d.XMin,
			YMin:       d.YMin,
			XMax:       d.XMax,
			YMax:       d.YMax,
			Confidence: d.Confidence,
			TrackID:    d.TrackID,
		}
	}

	// a response is only returned for a result that /api/results can serve
	if err := m.deps.Results.Insert(record); err != nil {
		return nil, fmt.Errorf("failed to store result %s: %w", record.ID, err)
	}
	if err := m.deps.Detections.InsertBatch(rows); err != nil {
		if delErr := m.deps.Results.Delete(record.ID); delErr != nil {
			m.logger.Error("Error rolling back result %s: %v", record.ID, delErr)
		}
		return nil, fmt.Errorf("failed to store detections of %s: %w", record.ID, err)
	}

	return NewResponse(record, rows), nil
}

func (m *Manager) publish(event dto.ProgressEvent) {
	if m.deps.Hub != nil {
		m.deps.Hub.Publish(event)
	}
}

func saveJPEG(img image.Image, path string) error {
	if img == nil {
		return fmt.Errorf("no annotated image to save")
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(90)); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func unitOrDefault(u density.Unit) density.Unit {
	if u == "" {
		return density.Meters
	}
	return u
}
