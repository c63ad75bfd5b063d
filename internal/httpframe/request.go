package httpframe

import (
	"strconv"

	"github.com/studiowebux/surge/internal/types"
)

// UserAgent is sent with every request
var UserAgent = "surge/1.0"

// AppendRequest appends the full wire form of task, body included, to dst.
// keepAlive selects the advertised Connection mode.
func AppendRequest(dst []byte, host string, task types.Task, keepAlive bool) []byte {
	dst = AppendRequestHeader(dst, host, task, keepAlive)
	return append(dst, task.Body...)
}

// AppendRequestHeader appends the request line and headers of task to dst,
// blank line included. The body is left to the caller so large bodies can be
// written without copying.
func AppendRequestHeader(dst []byte, host string, task types.Task, keepAlive bool) []byte {
	dst = append(dst, task.Method()...)
	dst = append(dst, ' ')
	if task.Endpoint == "" {
		dst = append(dst, '/')
	} else {
		dst = append(dst, task.Endpoint...)
	}
	dst = append(dst, " HTTP/1.1\r\nHost: "...)
	dst = append(dst, host...)
	if keepAlive {
		dst = append(dst, "\r\nConnection: keep-alive\r\n"...)
	} else {
		dst = append(dst, "\r\nConnection: close\r\n"...)
	}
	dst = append(dst, "User-Agent: "...)
	dst = append(dst, UserAgent...)
	dst = append(dst, "\r\n"...)

	if task.Body != nil {
		dst = append(dst, "Content-Length: "...)
		dst = strconv.AppendInt(dst, int64(len(task.Body)), 10)
		dst = append(dst, "\r\nContent-Type: application/octet-stream\r\n"...)
	}

	return append(dst, "\r\n"...)
}
