package slackrag

// Version is set at build time with -ldflags.
var Version = "devel"
