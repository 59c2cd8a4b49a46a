package mongomock

import (
	"time"

	"github.com/dot-do/mongomock/util"
)

const (
	defaultBatchSize         = 101
	defaultCursorIdleTimeout = 10 * time.Minute
	defaultChangeLogCapacity = 4096
)

// Config configures a database engine instance
type Config struct {
	// Logger receives engine lifecycle events. Defaults to a json logger at info level (debug when Debug is set).
	Logger Logger `json:"-"`
	// DefaultBatchSize is the batch size used by find/aggregate/getMore when the caller does not set one
	DefaultBatchSize int `json:"defaultBatchSize" validate:"min=0"`
	// CursorIdleTimeout is how long an open cursor may sit unused before it is reaped
	CursorIdleTimeout time.Duration `json:"cursorIdleTimeout" validate:"min=0"`
	// ChangeLogCapacity bounds the number of change events retained for resumability
	ChangeLogCapacity int `json:"changeLogCapacity" validate:"min=0"`
	// Debug lowers the default logger level to debug
	Debug bool `json:"debug"`
}

func (c *Config) setDefaults() error {
	if err := util.ValidateStruct(c); err != nil {
		return err
	}
	if c.DefaultBatchSize == 0 {
		c.DefaultBatchSize = defaultBatchSize
	}
	if c.CursorIdleTimeout == 0 {
		c.CursorIdleTimeout = defaultCursorIdleTimeout
	}
	if c.ChangeLogCapacity == 0 {
		c.ChangeLogCapacity = defaultChangeLogCapacity
	}
	if c.Logger == nil {
		level := "info"
		if c.Debug {
			level = "debug"
		}
		lgr, err := NewLogger(level, map[string]any{})
		if err != nil {
			return err
		}
		c.Logger = lgr
	}
	return nil
}
