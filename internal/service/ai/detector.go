package ai

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mosquitoserver/internal/apperr"
	"mosquitoserver/internal/detect"
	"mosquitoserver/internal/logger"
	"mosquitoserver/internal/media"

	"gocv.io/x/gocv"
)

const (
	// DefaultInputSize is the square input of YOLOv8 exports.
	DefaultInputSize = 640
	// NMSThreshold is the IoU above which overlapping boxes are suppressed.
	NMSThreshold = 0.45
)

// LoadOptions describe where the weights live and how to run them.
type LoadOptions struct {
	WeightsPath string
	NamesPath   string
	Backend     string // cpu or cuda
	InputSize   int
	TrackerIoU  float64
	TrackerAge  int
}

// Detector runs a YOLO network exported to ONNX through OpenCV DNN.
// The network is not safe for concurrent use; forward passes are serialized.
type Detector struct {
	net       gocv.Net
	names     map[int]string
	inputSize int
	opts      LoadOptions
	mu        sync.Mutex
	logger    *logger.Logger
}

// LoadModel loads the weights at opts.WeightsPath. Any failure is reported as apperr.ErrModelLoad.
func LoadModel(opts LoadOptions, logger *logger.Logger) (*Detector, error) {
	info, err := os.Stat(opts.WeightsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: weights file %s: %v", apperr.ErrModelLoad, opts.WeightsPath, err)
	}
	if info.IsDir() || info.Size() == 0 {
		return nil, fmt.Errorf("%w: weights file %s is empty or a directory", apperr.ErrModelLoad, opts.WeightsPath)
	}

	names, err := loadNames(opts.NamesPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrModelLoad, err)
	}

	net := gocv.ReadNet(opts.WeightsPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("%w: failed to parse network from %s", apperr.ErrModelLoad, opts.WeightsPath)
	}

	backend, target := gocv.NetBackendDefault, gocv.NetTargetCPU
	if opts.Backend == "cuda" {
		backend, target = gocv.NetBackendCUDA, gocv.NetTargetCUDA
	}
	errBackend := net.SetPreferableBackend(backend)
	errTarget := net.SetPreferableTarget(target)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("%w: failed to set preferable backend or target", apperr.ErrModelLoad)
	}

	if opts.InputSize <= 0 {
		opts.InputSize = DefaultInputSize
	}

	d := &Detector{
		net:       net,
		names:     names,
		inputSize: opts.InputSize,
		opts:      opts,
		logger:    logger,
	}
	logger.Info("Detection network loaded from %s (%d classes, backend %s)", opts.WeightsPath, len(names), opts.Backend)
	return d, nil
}

// loadNames reads one class name per line; an empty path means a single "mosquito" class.
func loadNames(path string) (map[int]string, error) {
	if path == "" {
		return map[int]string{0: "mosquito"}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("names file: %w", err)
	}
	defer f.Close()

	names := make(map[int]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		names[len(names)] = line
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("names file: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("names file %s has no classes", path)
	}
	return names, nil
}

// Names returns the class id to label table.
func (d *Detector) Names() map[int]string {
	out := make(map[int]string, len(d.names))
	for k, v := range d.names {
		out[k] = v
	}
	return out
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// Predict runs frame-independent detection on an image or every frame of a video.
func (d *Detector) Predict(ctx context.Context, source string, opts detect.Options) ([]detect.Results, error) {
	return d.run(ctx, source, opts, nil)
}

// Track runs detection on every frame and assigns persistent ids across frames.
// A fresh tracker is used per call; Persist only matters within one source.
func (d *Detector) Track(ctx context.Context, source string, opts detect.Options) ([]detect.Results, error) {
	return d.run(ctx, source, opts, detect.NewTracker(d.opts.TrackerIoU, d.opts.TrackerAge))
}

func (d *Detector) run(ctx context.Context, source string, opts detect.Options, tracker *detect.Tracker) ([]detect.Results, error) {
	switch media.KindOf(source) {
	case media.Image:
		return d.runImage(ctx, source, opts, tracker)
	case media.Video:
		return d.runVideo(ctx, source, opts, tracker)
	default:
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnsupportedFileType, filepath.Ext(source))
	}
}

func (d *Detector) runImage(ctx context.Context, source string, opts detect.Options, tracker *detect.Tracker) ([]detect.Results, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.FromContext(err)
	}

	mat := gocv.IMRead(source, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("failed to read image %s", source)
	}

	boxes, err := d.detectObjects(mat, opts.Conf)
	if err != nil {
		return nil, err
	}
	if tracker != nil {
		boxes = tracker.Update(boxes)
	}

	result := detect.Results{
		Path:      source,
		OrigShape: image.Pt(mat.Cols(), mat.Rows()),
		Boxes:     boxes,
		Names:     d.Names(),
	}

	if opts.Save {
		if err := os.MkdirAll(opts.SaveDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create save directory: %w", err)
		}
		if err := d.drawBoxes(&mat, boxes); err != nil {
			return nil, err
		}
		out := filepath.Join(opts.SaveDir, filepath.Base(source))
		if ok := gocv.IMWrite(out, mat); !ok {
			return nil, fmt.Errorf("failed to write annotated image %s", out)
		}
		result.SaveDir = opts.SaveDir
	}
	if opts.Progress != nil {
		opts.Progress(0, len(boxes))
	}
	return []detect.Results{result}, nil
}

// runVideo decodes every frame, detects, and when saving writes an annotated
// MJPG .avi named after the source into opts.SaveDir.
func (d *Detector) runVideo(ctx context.Context, source string, opts detect.Options, tracker *detect.Tracker) ([]detect.Results, error) {
	capture, err := gocv.VideoCaptureFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %w", source, err)
	}
	defer capture.Close()

	fps := capture.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 30
	}
	width := int(capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(capture.Get(gocv.VideoCaptureFrameHeight))

	var writer *gocv.VideoWriter
	if opts.Save {
		if err := os.MkdirAll(opts.SaveDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create save directory: %w", err)
		}
		stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
		out := filepath.Join(opts.SaveDir, stem+".avi")
		writer, err = gocv.VideoWriterFile(out, "MJPG", fps, width, height, true)
		if err != nil {
			return nil, fmt.Errorf("failed to open video writer %s: %w", out, err)
		}
		defer writer.Close()
	}

	names := d.Names()
	frame := gocv.NewMat()
	defer frame.Close()

	var results []detect.Results
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, apperr.FromContext(fmt.Errorf("video %s stopped at frame %d: %w", source, i, err))
		}
		if ok := capture.Read(&frame); !ok || frame.Empty() {
			break
		}

		boxes, err := d.detectObjects(frame, opts.Conf)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		if tracker != nil {
			boxes = tracker.Update(boxes)
		}

		r := detect.Results{
			Path:      source,
			Frame:     i,
			OrigShape: image.Pt(frame.Cols(), frame.Rows()),
			Boxes:     boxes,
			Names:     names,
		}
		if writer != nil {
			if err := d.drawBoxes(&frame, boxes); err != nil {
				return nil, err
			}
			if err := writer.Write(frame); err != nil {
				return nil, fmt.Errorf("failed to write frame %d: %w", i, err)
			}
			r.SaveDir = opts.SaveDir
		}
		results = append(results, r)

		if opts.Progress != nil {
			opts.Progress(i, len(boxes))
		}
	}

	d.logger.Info("Processed %d frames of %s", len(results), filepath.Base(source))
	return results, nil
}

// detectObjects letterboxes the frame into a square, runs the network and
// decodes the YOLOv8 output [1, 4+classes, anchors] followed by NMS.
func (d *Detector) detectObjects(mat gocv.Mat, conf float64) ([]detect.Box, error) {
	rows, cols := mat.Rows(), mat.Cols()
	maxDim := rows
	if cols > maxDim {
		maxDim = cols
	}

	square := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(114, 114, 114, 0), maxDim, maxDim, gocv.MatTypeCV8UC3)
	defer square.Close()
	roi := square.Region(image.Rect(0, 0, cols, rows))
	mat.CopyTo(&roi)
	roi.Close()

	scale := float64(maxDim) / float64(d.inputSize)
	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	d.mu.Unlock()
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected network output shape %v", dims)
	}
	channels, anchors := dims[1], dims[2]

	var rects []image.Rectangle
	var scores []float32
	var boxes []detect.Box
	for a := 0; a < anchors; a++ {
		best, cls := float32(0), 0
		for c := 4; c < channels; c++ {
			if s := output.GetFloatAt3(0, c, a); s > best {
				best, cls = s, c-4
			}
		}
		if float64(best) < conf {
			continue
		}

		cx := float64(output.GetFloatAt3(0, 0, a))
		cy := float64(output.GetFloatAt3(0, 1, a))
		w := float64(output.GetFloatAt3(0, 2, a))
		h := float64(output.GetFloatAt3(0, 3, a))
		xyxy := [4]float64{
			clamp((cx-w/2)*scale, cols),
			clamp((cy-h/2)*scale, rows),
			clamp((cx+w/2)*scale, cols),
			clamp((cy+h/2)*scale, rows),
		}

		rects = append(rects, image.Rect(int(xyxy[0]), int(xyxy[1]), int(xyxy[2]), int(xyxy[3])))
		scores = append(scores, best)
		boxes = append(boxes, detect.Box{XYXY: xyxy, Conf: float64(best), Cls: cls, TrackID: -1})
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(rects, scores, float32(conf), NMSThreshold)
	kept := make([]detect.Box, 0, len(indices))
	for _, idx := range indices {
		kept = append(kept, boxes[idx])
	}
	return kept, nil
}

func clamp(v float64, limit int) float64 {
	if v < 0 {
		return 0
	}
	if v > float64(limit) {
		return float64(limit)
	}
	return v
}

// drawBoxes draws detections onto the frame in place.
func (d *Detector) drawBoxes(mat *gocv.Mat, boxes []detect.Box) error {
	red := color.RGBA{R: 255, G: 0, B: 0, A: 0}

	for _, b := range boxes {
		rect := image.Rect(int(b.XYXY[0]), int(b.XYXY[1]), int(b.XYXY[2]), int(b.XYXY[3]))
		if err := gocv.Rectangle(mat, rect, red, 2); err != nil {
			return fmt.Errorf("failed to draw rectangle: %v", err)
		}

		label := fmt.Sprintf("%s %.2f", d.names[b.Cls], b.Conf)
		if b.TrackID >= 0 {
			label = fmt.Sprintf("#%d %s", b.TrackID, label)
		}
		pt := image.Pt(rect.Min.X, rect.Min.Y-5)
		if err := gocv.PutText(mat, label, pt, gocv.FontHersheySimplex, 0.5, red, 1); err != nil {
			return fmt.Errorf("failed to draw text: %v", err)
		}
	}
	return nil
}
