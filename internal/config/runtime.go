package config

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/todo-api/internal/storage"
)

// NewLogger builds the process logger from cfg, writing to w.
func NewLogger(cfg Config, w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(cfg.Level)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}

	return log
}

// Storage returns the backend selection for cfg.
func (c Config) Storage() storage.OpenConfig {
	return storage.OpenConfig{
		Backend:  c.Backend,
		DataFile: c.DataFileAbs,
		S3: storage.S3Config{
			Bucket:          c.S3.Bucket,
			Key:             c.S3.Key,
			Region:          c.S3.Region,
			Endpoint:        c.S3.Endpoint,
			PathStyle:       c.S3.PathStyle,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
		},
	}
}

// StoreOptions returns the store policy for cfg. onSave may be nil.
func (c Config) StoreOptions(onSave func(error)) storage.Options {
	return storage.Options{
		StrictLoad: c.StrictLoad,
		Serialize:  c.Serialize,
		OnSave:     onSave,
	}
}
