package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/modmon/internal/platform/gcp"
	"github.com/yungbote/modmon/internal/platform/logger"
)

var newBucketService = gcp.NewBucketService

type MirrorBootstrapErrorCode string

const (
	MirrorBootstrapErrorInvalidMode         MirrorBootstrapErrorCode = "invalid_mode"
	MirrorBootstrapErrorMissingBucket       MirrorBootstrapErrorCode = "missing_bucket"
	MirrorBootstrapErrorMissingEmulatorHost MirrorBootstrapErrorCode = "missing_emulator_host"
	MirrorBootstrapErrorInvalidEmulatorHost MirrorBootstrapErrorCode = "invalid_emulator_host"
	MirrorBootstrapErrorConnectFailed       MirrorBootstrapErrorCode = "connect_failed"
)

type MirrorBootstrapError struct {
	Code         MirrorBootstrapErrorCode
	Mode         string
	Bucket       string
	EmulatorHost string
	Cause        error
}

func (e *MirrorBootstrapError) Error() string {
	if e == nil {
		return "storage mirror bootstrap failed"
	}
	return fmt.Sprintf(
		"storage mirror bootstrap failed (code=%s mode=%q bucket=%q emulator_host=%q): %v",
		e.Code,
		e.Mode,
		e.Bucket,
		e.EmulatorHost,
		e.Cause,
	)
}

func (e *MirrorBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveMirror connects the object-storage mirror. It returns nil, nil when
// mirroring is disabled.
func resolveMirror(ctx context.Context, log *logger.Logger, cfg MirrorConfig) (gcp.BucketService, error) {
	storageCfg, err := cfg.ObjectStorage()
	if err != nil {
		classified := classifyMirrorBootstrapError(storageCfg, err)
		log.Error(
			"Storage mirror selection failed",
			"mode", storageCfg.Mode,
			"bucket", storageCfg.Bucket,
			"error_code", mirrorBootstrapErrorCode(classified),
			"error", classified,
		)
		return nil, classified
	}
	if !storageCfg.Enabled() {
		log.Debug("Storage mirror disabled")
		return nil, nil
	}

	log.Info(
		"Selecting storage mirror",
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"compatibility_fallback", storageCfg.CompatibilityFallback,
		"bucket", storageCfg.Bucket,
		"emulator_host", storageCfg.EmulatorHost,
	)

	bucket, err := newBucketService(ctx, log, storageCfg)
	if err != nil {
		classified := classifyMirrorBootstrapError(storageCfg, err)
		log.Error(
			"Storage mirror bootstrap failed",
			"mode", storageCfg.Mode,
			"bucket", storageCfg.Bucket,
			"emulator_host", storageCfg.EmulatorHost,
			"error_code", mirrorBootstrapErrorCode(classified),
			"error", classified,
		)
		return nil, classified
	}
	return bucket, nil
}

func classifyMirrorBootstrapError(storageCfg gcp.ObjectStorageConfig, err error) error {
	code := MirrorBootstrapErrorConnectFailed
	var cfgErr *gcp.ObjectStorageConfigError
	if errors.As(err, &cfgErr) {
		switch cfgErr.Code {
		case gcp.ObjectStorageConfigErrorInvalidMode:
			code = MirrorBootstrapErrorInvalidMode
		case gcp.ObjectStorageConfigErrorMissingBucket:
			code = MirrorBootstrapErrorMissingBucket
		case gcp.ObjectStorageConfigErrorMissingEmulatorHost:
			code = MirrorBootstrapErrorMissingEmulatorHost
		case gcp.ObjectStorageConfigErrorInvalidEmulatorHost:
			code = MirrorBootstrapErrorInvalidEmulatorHost
		}
	}
	return &MirrorBootstrapError{
		Code:         code,
		Mode:         string(storageCfg.Mode),
		Bucket:       storageCfg.Bucket,
		EmulatorHost: storageCfg.EmulatorHost,
		Cause:        err,
	}
}

func mirrorBootstrapErrorCode(err error) MirrorBootstrapErrorCode {
	var bootstrapErr *MirrorBootstrapError
	if errors.As(err, &bootstrapErr) && bootstrapErr.Code != "" {
		return bootstrapErr.Code
	}
	return MirrorBootstrapErrorConnectFailed
}
