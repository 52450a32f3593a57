// Package logging provides structured logging for accdd on top of Zap.
//
// # Overview
//
// The package wraps Zap with:
//   - A custom Trace level (-2, below Debug) for raw agent payloads
//   - Automatic context fields (trace_id, span_id, session.id, cycle.id)
//   - Secret redaction by field name and value pattern
//   - Console or JSON encoding on stderr, leaving stdout to command output
//
// # Usage
//
//	cfg, err := logging.NewConfig("debug", "console")
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, manifest.ProjectSessionID)
//	ctx = logging.WithCycleID(ctx, "01")
//	logger.Info(ctx, "coder session started", zap.Int("iteration", 2))
//
// Components receive the logger through their constructors. FromContext is
// available for code that only has a context and falls back to a nop logger.
//
// # Secret Redaction
//
// Secrets are redacted at three layers:
//  1. Domain primitives (config.Secret never prints its value)
//  2. Field names such as api_key, token and authorization
//  3. Value patterns such as bearer tokens and GitHub tokens, in fields and messages
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	svc := manifest.NewStore(path, tl.Logger)
//	...
//	tl.AssertLogged(t, zapcore.WarnLevel, "corrupt manifest")
package logging
