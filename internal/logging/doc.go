// Package logging configures the process-wide zerolog logger and hands out
// component loggers. Library packages never configure output themselves; they
// call GetLogger once at construction time and log through the returned value.
package logging
