// Package notifier delivers tracker reports to chats.
//
// Every send passes one shared token bucket, so a tick that reports to many
// chats does not trip Telegram's flood limits. Transient failures are retried
// with jittered exponential backoff; a chat that blocked or removed the bot is
// not retried.
//
// The service keeps a short in-memory history of delivered messages for the
// startup health report.
package notifier
