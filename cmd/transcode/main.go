package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"mosquitoserver/internal/config"
	"mosquitoserver/internal/logger"
	"mosquitoserver/internal/service/transcode"
)

func main() {
	in := flag.String("in", "", "Video file to convert to H.264/AAC MP4")
	timeout := flag.Duration("timeout", 5*time.Minute, "Give up after this long")
	flag.Parse()

	if *in == "" {
		fmt.Fprintln(os.Stderr, "-in is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	lg := logger.NewLogger(cfg)
	defer lg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	out, err := transcode.New(lg).ConvertContainer(ctx, *in)
	if err != nil {
		log.Fatalf("Transcode failed: %v", err)
	}
	fmt.Println(out)
}
