// Package shoutcast opens ICY/Shoutcast streams over HTTP and reads them as clean audio.
//
// It started as a fork of github.com/romantomjak/shoutcast and is extended for
// stream recording and relaying:
//   - Playlist resolution: .pls and .m3u responses are resolved to the actual stream URL
//   - SHOUTcast v1 "ICY 200 OK" status lines are accepted by net/http
//   - Metadata is stripped with pkg/icy, so only audio bytes are returned
//   - No client timeout on the stream so long-running recording is supported
package shoutcast
