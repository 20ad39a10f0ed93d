package capauth

import "github.com/oarkflow/capauth/logger"

// Logger is re-exported so embedding applications don't need to import
// the logger subpackage for the common case.
type Logger = logger.Logger
