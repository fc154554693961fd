package app

import "time"

const (
	Name           = "berryweather"
	SourceURL      = "https://git.skobk.in/skobkin/berryweather"
	ConfigFilename = "config.json"
	DBFilename     = "berryweather.db"
	LogFilename    = "berryweather.log"

	writerQueueCapacity  = 512
	retentionSweepPeriod = time.Hour
	shutdownTimeout      = 5 * time.Second
)
