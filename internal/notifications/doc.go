// Package notifications delivers run completion events via ntfy.
//
// The service publishes to the topic configured in config.toml and degrades
// to a no-op when no topic is set. Message wording matches what the desktop
// notifications show so the two surfaces read the same.
package notifications
