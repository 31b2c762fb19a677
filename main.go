package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/testagram/image-service/images"
)

const usage = `Usage: testagram [--config path] <command> [flags]

Commands:
  upload <file> [--tag t]... [--description d] [--content-type type]
  get <id>
  list [--filename f] [--tag t]
  delete <id>
`

const exitNotFound = 2

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	global := pflag.NewFlagSet("testagram", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := global.String("config", "", "Path to configuration file (default "+images.DefaultConfigPath+" if present)")
	if err := global.Parse(args); err != nil {
		return 1
	}
	if global.NArg() == 0 {
		global.Usage()
		return 1
	}

	// Load configuration
	config, err := images.LoadConfig(*configPath)
	if err != nil {
		logrus.Errorf("Failed to load configuration: %v", err)
		return 1
	}
	log, err := newLogger(config.Log)
	if err != nil {
		logrus.Errorf("Failed to configure logging: %v", err)
		return 1
	}

	ctx := context.Background()
	shutdownTelemetry, err := images.InitTelemetry(ctx, config.Telemetry)
	if err != nil {
		log.Errorf("Failed to initialise telemetry: %v", err)
		return 1
	}
	defer flush(shutdownTelemetry, log)

	svc, closeStores, err := images.NewServiceFromConfig(ctx, config, log)
	if err != nil {
		log.Errorf("Failed to create image service: %v", err)
		return 1
	}
	defer flush(closeStores, log)

	cmd, cmdArgs := global.Arg(0), global.Args()[1:]
	var out interface{}
	switch cmd {
	case "upload":
		out, err = upload(ctx, svc, cmdArgs)
	case "get":
		out, err = get(ctx, svc, cmdArgs)
	case "list":
		out, err = list(ctx, svc, cmdArgs)
	case "delete":
		err = remove(ctx, svc, cmdArgs)
		out = map[string]string{"message": "Image deleted successfully"}
	default:
		global.Usage()
		return 1
	}

	if err != nil {
		if errors.Is(err, images.ErrNotFound) {
			log.Error("Image not found")
			return exitNotFound
		}
		log.Errorf("%s failed: %v", cmd, err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Errorf("Failed to write output: %v", err)
		return 1
	}
	return 0
}

func newLogger(cfg images.LogConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log, nil
}

func flush(fn func(context.Context) error, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warnf("Shutdown: %v", err)
	}
}

func upload(ctx context.Context, svc *images.Service, args []string) (*images.ImageRecord, error) {
	fs := pflag.NewFlagSet("upload", pflag.ContinueOnError)
	tags := fs.StringArray("tag", nil, "Tag to attach (repeatable)")
	description := fs.String("description", "", "Free-text description")
	contentType := fs.String("content-type", "", "MIME type (guessed from the file extension if empty)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("upload takes exactly one file")
	}

	path := fs.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	ct := *contentType
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(path))
	}
	if ct == "" {
		ct = "application/octet-stream"
	}

	return svc.Create(ctx, images.CreateImageInput{
		Body:             f,
		OriginalFilename: filepath.Base(path),
		ContentType:      ct,
		Size:             size,
		Tags:             *tags,
		Description:      *description,
	})
}

func get(ctx context.Context, svc *images.Service, args []string) (*images.ImageRecord, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("get takes exactly one id")
	}
	return svc.Get(ctx, args[0])
}

func list(ctx context.Context, svc *images.Service, args []string) ([]*images.ImageRecord, error) {
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	filename := fs.String("filename", "", "Filter by partial filename")
	tag := fs.String("tag", "", "Filter by tag")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return svc.List(ctx, images.ImageFilter{
		Filename: *filename,
		Tag:      *tag,
	})
}

func remove(ctx context.Context, svc *images.Service, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("delete takes exactly one id")
	}
	return svc.Delete(ctx, args[0])
}
