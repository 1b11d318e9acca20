package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"mosquitoserver/internal/config"
	"mosquitoserver/internal/density"
	"mosquitoserver/internal/detect"
	"mosquitoserver/internal/logger"
	"mosquitoserver/internal/media"
	"mosquitoserver/internal/service/ai"
	"mosquitoserver/internal/service/inference"
	"mosquitoserver/internal/service/transcode"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

func main() {
	cfg := config.Load()

	imagePath := flag.String("image", "", "Image to analyse (.jpg, .jpeg, .png)")
	videoPath := flag.String("video", "", "Video to analyse (.mp4, .avi, .mov)")
	length := flag.Float64("length", 0, "Length of the observed area")
	width := flag.Float64("width", 0, "Width of the observed area")
	unitName := flag.String("unit", "m", "Unit of length and width: m, cm or mm")
	track := flag.Bool("track", false, "Track mosquitoes across video frames")
	conf := flag.Float64("conf", cfg.ConfidenceThreshold, "Confidence threshold")
	out := flag.String("out", "", "Output file (image) or directory the annotated video is copied into")
	convert := flag.Bool("transcode", cfg.Transcode, "Re-encode the annotated video to H.264 MP4")
	flag.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "ONNX weights")
	flag.Parse()

	if (*imagePath == "") == (*videoPath == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -image or -video is required")
		flag.Usage()
		os.Exit(2)
	}

	unit, err := density.ParseUnit(*unitName)
	if err != nil {
		log.Fatalf("%v", err)
	}
	var area *density.Area
	if *length != 0 || *width != 0 {
		a, err := density.NewArea(*length, *width, unit)
		if err != nil {
			log.Fatalf("%v", err)
		}
		area = &a
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.JobTimeout)
		defer cancel()
	}

	lg := logger.NewLogger(cfg)
	defer lg.Close()

	loader := ai.NewLoader(cfg, lg)
	defer loader.Close()

	if *imagePath != "" {
		runImage(ctx, loader, lg, *imagePath, area, unit, *conf, *out)
		return
	}
	runVideo(ctx, loader, lg, cfg, *videoPath, area, unit, *track, *conf, *out, *convert)
}

func runImage(ctx context.Context, loader *ai.Loader, lg *logger.Logger, path string, area *density.Area, unit density.Unit, conf float64, out string) {
	if _, err := media.Validate(path, media.Image); err != nil {
		log.Fatalf("%v", err)
	}

	res, err := inference.NewImageService(loader, detect.NewBoxAnnotator(), lg).Run(ctx, path, area, conf)
	if err != nil {
		log.Fatalf("Image inference failed: %v", err)
	}

	if out == "" {
		out = "annotated_result.jpg"
	}
	if err := imaging.Save(res.Annotated, out); err != nil {
		log.Fatalf("Failed to save %s: %v", out, err)
	}

	if res.PixelArea {
		unit = density.Pixels
	}
	fmt.Printf("Total count: %d\n", res.TotalCount)
	fmt.Printf("Density: %.4f mosquitoes per sq. %s\n", density.PerUnit(res.Density, unit), unit.Name())
	fmt.Printf("Annotated image: %s\n", out)
}

func runVideo(ctx context.Context, loader *ai.Loader, lg *logger.Logger, cfg *config.Config, path string, area *density.Area, unit density.Unit, track bool, conf float64, out string, convert bool) {
	if _, err := media.Validate(path, media.Video); err != nil {
		log.Fatalf("%v", err)
	}

	// the video service empties its work dir, so it never runs inside -out
	workDir := newWorkDir(cfg.WorkDirectory)

	res, err := inference.NewVideoService(loader, lg).Run(ctx, path, inference.VideoOptions{
		Tracking: track,
		Area:     area,
		Conf:     conf,
		WorkDir:  workDir,
		Progress: func(frame, detections int) {
			if frame%50 == 0 {
				fmt.Printf("\rframe %d: %d detections", frame, detections)
			}
		},
	})
	fmt.Println()
	if err != nil {
		log.Fatalf("Video inference failed: %v", err)
	}

	artifact := res.ArtifactPath
	if convert {
		artifact, err = transcode.New(lg).ConvertContainer(ctx, res.ArtifactPath)
		if err != nil {
			log.Fatalf("Transcode failed: %v", err)
		}
	}

	if out != "" {
		artifact, err = deliverArtifact(artifact, out)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if err := os.RemoveAll(workDir); err != nil {
			lg.Warning("Failed to remove %s: %v", workDir, err)
		}
	}

	fmt.Printf("Frames: %d\n", res.Frames)
	fmt.Printf("Total count (first frame): %d\n", res.TotalCount)
	fmt.Printf("Peak count: %d\n", res.PeakCount)
	if track {
		fmt.Printf("Unique tracks: %d\n", res.UniqueTracks)
	}
	fmt.Printf("Density: %.4f mosquitoes per sq. %s\n", density.PerUnit(res.Density, unit), unit.Name())
	fmt.Printf("Annotated video: %s\n", artifact)
}

// newWorkDir returns a fresh job directory under root.
func newWorkDir(root string) string {
	return filepath.Join(root, "cli-"+uuid.NewString())
}

// deliverArtifact copies the artifact into the directory out, creating it when
// needed. Files already in out are left alone.
func deliverArtifact(artifact, out string) (string, error) {
	if err := os.MkdirAll(out, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", out, err)
	}
	dst := filepath.Join(out, filepath.Base(artifact))
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("refusing to overwrite %s", dst)
	}

	src, err := os.Open(artifact)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", artifact, err)
	}
	defer src.Close()

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to copy to %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return dst, nil
}
