// Package domain holds the value types shared by the provider, the store and
// the trackers: ratings, tournament lifecycle states, city sign-ups and the
// error kinds used across the bot.
package domain
