package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"granamodel/internal/persistence/objstore"
)

// buildMirror returns nil unless GRANA_S3_MIRROR is set.
func buildMirror(dataDir string, logger *log.Logger) (*objstore.Mirror, error) {
	if !envBool("GRANA_S3_MIRROR", false) {
		return nil, nil
	}
	cfg := objstore.Config{
		Endpoint:        os.Getenv("GRANA_S3_ENDPOINT"),
		Bucket:          os.Getenv("GRANA_S3_BUCKET"),
		Region:          os.Getenv("GRANA_S3_REGION"),
		AccessKeyID:     os.Getenv("GRANA_S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("GRANA_S3_SECRET_ACCESS_KEY"),
	}
	client, err := objstore.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("GRANA_S3_MIRROR=true: %w", err)
	}
	workers := envInt("GRANA_S3_UPLOAD_WORKERS", 2)
	return objstore.NewMirror(client, dataDir, strings.TrimSpace(os.Getenv("GRANA_S3_PREFIX")), workers, 0, logger), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
