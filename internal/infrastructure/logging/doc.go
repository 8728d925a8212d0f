// Package logging builds the host's zap logger.
//
// Production output is JSON; development output is colored console text.
// Components receive a named *zap.Logger:
//
//	logger := logging.NewDefault()
//	rpcLogger := logger.Component("rpc")
//	rpcLogger.Warn("Failed to release handle", zap.Error(err))
package logging
