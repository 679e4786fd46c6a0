// Package bootstrap provides dependency initialization for the voice
// pipeline API: job/voice persistence, the workspace manager, the
// pluggable external workers, and the orchestrator that wires them
// together.
package bootstrap

import (
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/voiceclone/pipeline/internal/config"
	"github.com/voiceclone/pipeline/internal/job"
	"github.com/voiceclone/pipeline/internal/orchestrator"
	"github.com/voiceclone/pipeline/internal/storage"
	"github.com/voiceclone/pipeline/internal/voice"
	"github.com/voiceclone/pipeline/internal/worker"
	"github.com/voiceclone/pipeline/internal/workspace"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Jobs         job.Repository
	Voices       *voice.Store
	Workspace    *workspace.Manager
	Storage      storage.Storage
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	jobsRepo, err := job.NewFileRepository(cfg.JobsDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("create job store: %w", err)
	}
	logger.Info("job store initialized", slog.String("jobs_dir", cfg.JobsDir()))

	voiceStore, err := voice.NewStore(cfg.VoicesDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("create voice store: %w", err)
	}
	logger.Info("voice store initialized", slog.String("voices_dir", cfg.VoicesDir()))

	ws := workspace.New(cfg.JobsDir())

	ffmpeg := worker.NewFFmpegTool(cfg.FFmpegPath, cfg.FFprobePath)
	if ffPath, ffErr := exec.LookPath(cfg.FFmpegPath); ffErr != nil {
		logger.Warn("ffmpeg not found in PATH; demux/mux/export will fail",
			slog.String("ffmpeg_path", cfg.FFmpegPath),
		)
	} else {
		logger.Info("ffmpeg tool initialized", slog.String("ffmpeg_path", ffPath))
	}

	// Separation, diarization, transcription, TTS and music generation are
	// opaque external workers. The reference implementations below are
	// deterministic, GPU-free stand-ins that let every workflow run
	// end-to-end without a neural backend; swapping in a real engine
	// means satisfying the same worker.* interface.
	separator := worker.NewReferenceSeparator(cfg.SampleRate)
	diarizer := worker.ReferenceDiarizer{}
	transcriber := worker.ReferenceTranscriber{}
	tts := worker.NewReferenceTTS(cfg.SampleRate)
	musicGen := worker.NewReferenceMusicGenerator(cfg.SampleRate)
	logger.Info("reference workers initialized",
		slog.String("tts_model", cfg.TTSModel),
		slog.String("music_model", cfg.MusicModel),
	)

	orch := orchestrator.New(
		jobsRepo,
		voiceStore,
		ws,
		ffmpeg, // Demuxer
		ffmpeg, // Prober
		ffmpeg, // Muxer
		separator,
		diarizer,
		transcriber,
		tts,
		musicGen,
		store,
		cfg.SampleRate,
		logger,
		orchestrator.WithFFmpegPath(cfg.FFmpegPath),
		orchestrator.WithSpeakerBounds(cfg.MinSpeakers, cfg.MaxSpeakers),
	)

	return &Dependencies{
		Orchestrator: orch,
		Jobs:         jobsRepo,
		Voices:       voiceStore,
		Workspace:    ws,
		Storage:      store,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.StorageDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured", slog.String("storage_dir", cfg.StorageDir))
	return localStore, nil
}
