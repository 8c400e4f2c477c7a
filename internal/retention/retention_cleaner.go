package retention

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"dlog/internal/storage"
)

type CleanerConfig struct {
	RetentionCheckIntervalMs int64
}

// RetentionCleaner periodically sweeps every registered engine's closed
// segments, deleting or archiving the ones its retention policy has aged
// out.
type RetentionCleaner struct {
	mu       sync.Mutex
	engines  []*storage.Engine
	config   CleanerConfig
	uploader TieredUploader
	logger   *zap.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewRetentionCleaner(config CleanerConfig, uploader TieredUploader, logger *zap.Logger) *RetentionCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionCleaner{
		config:   config,
		uploader: uploader,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (rc *RetentionCleaner) Register(e *storage.Engine) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.engines = append(rc.engines, e)
}

func (rc *RetentionCleaner) Start() {
	rc.wg.Add(1)
	go rc.run()
}

func (rc *RetentionCleaner) run() {
	defer rc.wg.Done()

	interval := time.Duration(rc.config.RetentionCheckIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanupAll()
		case <-rc.stopCh:
			return
		}
	}
}

func (rc *RetentionCleaner) cleanupAll() {
	rc.mu.Lock()
	engines := make([]*storage.Engine, len(rc.engines))
	copy(engines, rc.engines)
	rc.mu.Unlock()

	for _, e := range engines {
		if err := rc.cleanup(e); err != nil {
			rc.logger.Warn("retention cleanup failed", zap.Error(err))
		}
	}
}

// cleanup applies the engine's configured retention bounds to its closed
// segments: anything older than RetentionMs or beyond RetentionBytes from
// the newest segment is archived (if an uploader is configured) and then
// deleted locally. The active segment is never a candidate — Engine.Segments
// excludes it.
func (rc *RetentionCleaner) cleanup(e *storage.Engine) error {
	segments := e.Segments()
	if len(segments) == 0 {
		return nil
	}

	retentionMs := e.RetentionConfig().RetentionMs
	retentionBytes := e.RetentionConfig().RetentionBytes

	var totalBytes int64
	for _, s := range segments {
		totalBytes += s.Size
	}

	now := time.Now()
	for _, s := range segments {
		expired := retentionMs > 0 && now.Sub(s.ModTime) > time.Duration(retentionMs)*time.Millisecond
		oversized := retentionBytes > 0 && totalBytes > retentionBytes

		if !expired && !oversized {
			continue
		}

		if rc.uploader != nil {
			if _, err := rc.uploader.Upload(s.Path); err != nil {
				rc.logger.Warn("archive segment failed, skipping deletion", zap.String("path", s.Path), zap.Error(err))
				continue
			}
		}

		if err := e.DeleteSegment(s.BaseOffset); err != nil {
			return err
		}
		totalBytes -= s.Size
	}
	return nil
}

func (rc *RetentionCleaner) Stop() {
	close(rc.stopCh)
	rc.wg.Wait()
}
