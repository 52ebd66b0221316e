package config

const (
	defaultAddr              = ":8080"
	defaultReadTimeout       = 10
	defaultShutdownTimeout   = 10
	defaultMediaRoot         = "./media/videos"
	defaultWorkers           = 2
	defaultRenditionParallel = 1
	defaultMaxAttempts       = 3
	defaultRetryBackoff      = 5.0
	defaultEncodeTimeout     = 1800
	defaultLeaseTTL          = 3600
	defaultSweepInterval     = 300
	defaultFFmpegPath        = "ffmpeg"
	defaultQueueDriver       = "memory"
	defaultQueueStream       = "videoflix:jobs"
	defaultQueueGroup        = "transcode-workers"
	defaultRedelivery        = 120
	defaultRegistryDriver    = "memory"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
)

// Default returns a Config populated with repository defaults, including the
// standard 480p/720p/1080p ladder.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            defaultAddr,
			ReadTimeout:     defaultReadTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Media: Media{Root: defaultMediaRoot},
		Renditions: []RenditionSpec{
			{Label: "480p", Height: 480, Bitrate: 1200},
			{Label: "720p", Height: 720, Bitrate: 2500},
			{Label: "1080p", Height: 1080, Bitrate: 5000},
		},
		Pipeline: Pipeline{
			Workers:             defaultWorkers,
			RenditionParallel:   defaultRenditionParallel,
			MaxAttempts:         defaultMaxAttempts,
			RetryBackoffSeconds: defaultRetryBackoff,
			EncodeTimeoutSecs:   defaultEncodeTimeout,
			LeaseTTLSeconds:     defaultLeaseTTL,
			SweepIntervalSecs:   defaultSweepInterval,
			FFmpegPath:          defaultFFmpegPath,
		},
		Queue: Queue{
			Driver:            defaultQueueDriver,
			Stream:            defaultQueueStream,
			Group:             defaultQueueGroup,
			RedeliverySeconds: defaultRedelivery,
		},
		Registry: Registry{Driver: defaultRegistryDriver},
		Logging:  Logging{Level: defaultLogLevel, Format: defaultLogFormat},
	}
}
