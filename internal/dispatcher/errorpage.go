package dispatcher

import (
	"fmt"
	"time"

	"github.com/WhileEndless/go-reverse-proxy/internal/framer"
	"github.com/WhileEndless/go-reverse-proxy/internal/ioendpoint"
)

// imfFixdate is the RFC 7231 preferred HTTP-date format.
const imfFixdate = "Mon, 02 Jan 2006 15:04:05 GMT"

// buildErrorPage renders a minimal HTML error response for status into e's
// buffer (reusing it as scratch space, as the original does with the
// upstream buffer), and arms e to be written out from offset 0. canonical
// is used as the Location target for 3xx statuses.
func buildErrorPage(e *ioendpoint.Endpoint, status int, canonical string) {
	reason := framer.ReasonPhrase(status)
	body := fmt.Sprintf("<html><body><h1>%d %s</h1></body></html>", status, reason)

	date := time.Now().UTC().Format(imfFixdate)

	var location string
	if status >= 300 && status < 400 {
		location = fmt.Sprintf("Location: %s\r\n", canonical)
	}

	head := fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nServer: go-reverse-proxy\r\nDate: %s\r\nContent-Type: text/html\r\nContent-Length: %d\r\n%sConnection: close\r\n\r\n",
		status, reason, date, len(body), location,
	)

	n := copy(e.Buffer, head+body)
	e.WriteIndex = 0
	e.ToWrite = n
}
