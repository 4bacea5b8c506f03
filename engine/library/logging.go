package library

import (
	"fmt"
	"runtime/debug"

	"github.com/mborders/logmatic"
)

var logger = func() *logmatic.Logger {
	l := logmatic.NewLogger()
	l.SetLevel(logmatic.TRACE)
	l.ExitOnFatal = true
	return l
}()

// LogCLI logs to the terminal. Level options are: 0 fatal error (stack dump),
// 1 serious error (stack dump), 2 warning, 3 debug, 4 info, 5 trace (stack dump).
func LogCLI(message interface{}, level int) {
	msg := fmt.Sprint(message)
	switch level {
	case 5:
		debug.PrintStack()
		logger.Trace("%v", msg)
	case 4:
		logger.Info("%v", msg)
	case 3:
		logger.Debug("%v", msg)
	case 2:
		logger.Warn("%v", msg)
	case 1:
		debug.PrintStack()
		logger.Error("%v", msg)
	case 0:
		debug.PrintStack()
		logger.Fatal("%v", msg)
	}
}
