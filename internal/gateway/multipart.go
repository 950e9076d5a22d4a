package gateway

import (
	"fmt"
	"net/textproto"
)

// multipartHeader builds the Content-Disposition (and optional
// Content-Type) header for one multipart part.
func multipartHeader(field, filename, contentType string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	if filename != "" {
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	} else {
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, field))
	}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return h
}
