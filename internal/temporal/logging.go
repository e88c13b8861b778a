package temporal

import (
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// LogAdapter routes Temporal SDK logs into zerolog.
type LogAdapter struct {
	logger zerolog.Logger
}

func NewLogAdapter(logger zerolog.Logger) log.Logger {
	return &LogAdapter{
		logger: logger.With().Str("component", "temporal").Logger(),
	}
}

// fields attaches SDK key/value pairs to the event. A trailing key without a
// value is logged with a nil value.
func (a *LogAdapter) fields(event *zerolog.Event, keyvals []interface{}) *zerolog.Event {
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = "key"
		}
		var val interface{}
		if i+1 < len(keyvals) {
			val = keyvals[i+1]
		}
		if err, isErr := val.(error); isErr {
			event = event.AnErr(key, err)
			continue
		}
		event = event.Interface(key, val)
	}
	return event
}

func (a *LogAdapter) Debug(msg string, keyvals ...interface{}) {
	a.fields(a.logger.Debug(), keyvals).Msg(msg)
}

func (a *LogAdapter) Info(msg string, keyvals ...interface{}) {
	a.fields(a.logger.Info(), keyvals).Msg(msg)
}

func (a *LogAdapter) Warn(msg string, keyvals ...interface{}) {
	a.fields(a.logger.Warn(), keyvals).Msg(msg)
}

func (a *LogAdapter) Error(msg string, keyvals ...interface{}) {
	a.fields(a.logger.Error(), keyvals).Msg(msg)
}
