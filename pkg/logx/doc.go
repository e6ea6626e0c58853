// Package logx is hostwatch's structured logging layer on top of zerolog.
//
// A Logger is a cheap value: copy it, derive component loggers with With(),
// and pass it down. Loggers created from a Service follow runtime config
// changes (level, file sink, Telegram sink) without being rebuilt.
package logx
