package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cfg "github.com/docsession/uploader/config"
	"github.com/docsession/uploader/internal/delta"
	"github.com/docsession/uploader/internal/fingerprint"
	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/internal/registry"
	"github.com/docsession/uploader/internal/transport"
	"github.com/docsession/uploader/internal/uploader"
	"github.com/docsession/uploader/internal/validate"
	"github.com/docsession/uploader/pkg/logger"
)

func main() {
	var (
		sessionID = flag.String("session", "", "session identifier (required)")
		baseURL   = flag.String("base-url", "", "session service endpoint, overrides SESSION_BASE_URL")
		priority  = flag.String("priority", "normal", "processing priority: low | normal | high")
		yes       = flag.Bool("yes", false, "skip the confirmation prompt when similar uploads are found")
		deep      = flag.Bool("deep", false, "parse PDF structure during validation")
	)
	flag.Parse()

	if *sessionID == "" || flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s -session <id> [flags] <car.pdf> <receipt.pdf>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	switch models.Priority(*priority) {
	case models.PriorityLow, models.PriorityNormal, models.PriorityHigh:
	default:
		fmt.Fprintf(os.Stderr, "invalid -priority %q, want low, normal or high\n", *priority)
		os.Exit(2)
	}

	// log to file only so the terminal stays usable for prompts
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"logs/uploader.log"}),
		logger.WithErrorPaths([]string{"logs/uploader.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	uploadConfig := *cfg.GetUploadConfig()
	if *baseURL != "" {
		uploadConfig.BaseURL = *baseURL
	}

	transportConfig := transport.DefaultConfig(uploadConfig.BaseURL)
	transportConfig.CSRFToken = uploadConfig.CSRFToken
	transportConfig.DevUser = uploadConfig.DevUser
	transportConfig.ChunkSize = uploadConfig.ChunkSize
	transportConfig.StandardTimeout = uploadConfig.StandardTimeout
	transportConfig.ChunkTimeout = uploadConfig.ChunkTimeout

	hasher := fingerprint.NewPoolHasher(log, 2)
	defer hasher.Close()

	orc := uploader.New(log, &uploader.Config{
		HistoryLimit:   uploadConfig.HistoryLimit,
		ReleaseDelay:   uploadConfig.ReleaseDelay,
		DeepValidation: *deep || uploadConfig.DeepValidation,
	}, uploader.Deps{
		Validator:     validate.NewValidator(log, nil),
		Fingerprinter: fingerprint.NewFingerprinter(log, nil, hasher),
		Detector:      delta.NewDetector(log, nil),
		Registry:      registry.NewHTTP(log, uploadConfig.BaseURL, transportConfig.HTTPClient),
		Standard:      transport.NewStandard(log, transportConfig),
		Chunked:       transport.NewChunked(log, transportConfig),
	}, uploader.Events{
		OnState: func(from, to uploader.State) {
			fmt.Printf("state: %s -> %s\n", from, to)
		},
		OnProgress: func(combined float64) {
			fmt.Printf("\ruploading %3.0f%%", combined*100)
			if combined >= 1 {
				fmt.Println()
			}
		},
		OnAlert: func(alert uploader.Alert) {
			fmt.Printf("[%s] %s: %s\n", alert.Severity, alert.File, alert.Message)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	car, err := models.OpenDiskFile(flag.Arg(0))
	if err != nil {
		log.Fatal("Failed to open car file:", logger.Error(err))
	}
	receipt, err := models.OpenDiskFile(flag.Arg(1))
	if err != nil {
		car.Close()
		log.Fatal("Failed to open receipt file:", logger.Error(err))
	}

	if err := orc.Select(ctx, *sessionID, car, receipt); err != nil {
		log.Fatal("Selection failed:", logger.Error(err))
	}

	if matches := orc.DeltaMatches(); len(matches) > 0 && !*yes {
		fmt.Printf("%d recent upload(s) look similar:\n", len(matches))
		for _, m := range matches {
			fmt.Printf("  %-7s %s / %s (%d bytes, %s)\n",
				m.Type, m.SessionName, m.FileName, m.FileSize, m.CreatedAt.Format("2006-01-02"))
		}
		if !confirm("Upload anyway?") {
			orc.Reset()
			fmt.Println("upload cancelled")
			return
		}
	}

	opts := models.DefaultProcessingOptions()
	opts.Priority = models.Priority(*priority)

	result, err := orc.Upload(ctx, opts)
	if err != nil {
		log.Fatal("Upload failed:", logger.Error(err))
	}

	fmt.Printf("session %s uploaded: car=%s receipt=%s task=%s status=%s\n",
		result.SessionID, result.CarFileID, result.ReceiptFileID, result.TaskID, result.Status)
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
