// Package chat is the relay's boundary to the chat network.
//
// Client is the small surface the relay needs: a blocking connect, joins that
// wait for the server's acknowledgement, fire-and-forget sends and parts, and a
// close/wait pair for teardown. TwitchClient implements it on top of
// go-twitch-irc, which owns the socket, the read loop and PING/PONG keep-alive.
//
// Channel names are accepted with or without the leading '#'; NormalizeChannel
// produces the form used for comparisons and for the library calls.
package chat
