// Package framer implements the incremental HTTP/1.x parser: request-line
// and header-block parsing, body framing (Content-Length / chunked), and
// the selected-header extraction consumed by the connection state machine.
package framer

// reasonPhrases is the fixed status-line reason table. Codes outside this
// table fall back to 500.
var reasonPhrases = map[int]string{
	200: "OK",
	301: "Moved Permanently",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	411: "Length Required",
	413: "Content Too Large",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// ReasonPhrase returns the reason phrase for a status code, falling back to
// the 500 phrase for unlisted codes.
func ReasonPhrase(status int) string {
	if phrase, ok := reasonPhrases[status]; ok {
		return phrase
	}
	return reasonPhrases[500]
}
