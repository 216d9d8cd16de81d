package entity

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"sort"
	"strings"

	"github.com/kailas-cloud/triage/internal/domain"
)

const maxMultipartDepth = 5

// ParseEmail converts a raw RFC 822 message into an email Entity. The caller
// assigns ID and OrganizationID. Plain-text parts are preferred over HTML.
func ParseEmail(raw []byte) (Entity, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return Entity{}, fmt.Errorf("%w: parse message: %v", domain.ErrInvalidInput, err)
	}

	body, err := readBody(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body, 0)
	if err != nil {
		return Entity{}, fmt.Errorf("%w: read body: %v", domain.ErrInvalidInput, err)
	}

	e := Entity{
		Type:    TypeEmail,
		Source:  "email",
		Subject: decodeHeader(msg.Header.Get("Subject")),
		Content: strings.TrimSpace(body),
		Fields:  map[string]string{},
	}

	if from, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		e.Sender = from.Address
		if from.Name != "" {
			e.Fields["sender_name"] = from.Name
		}
	} else {
		e.Sender = strings.TrimSpace(decodeHeader(msg.Header.Get("From")))
	}

	for _, h := range []string{"To", "Cc"} {
		list, err := msg.Header.AddressList(h)
		if err != nil {
			continue
		}
		for _, a := range list {
			e.Recipients = append(e.Recipients, a.Address)
		}
	}

	if id := strings.Trim(msg.Header.Get("Message-Id"), "<> "); id != "" {
		e.Fields["message_id"] = id
	}
	if date, err := msg.Header.Date(); err == nil {
		e.CreatedAt = date.UTC()
	}
	return e, nil
}

func decodeHeader(h string) string {
	if h == "" {
		return ""
	}
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(h)
	if err != nil {
		return h
	}
	return decoded
}

func readBody(contentType, encoding string, r io.Reader, depth int) (string, error) {
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if depth >= maxMultipartDepth {
			return "", nil
		}
		return readMultipart(r, params["boundary"], depth+1)
	}

	data, err := io.ReadAll(decodeTransfer(encoding, r))
	if err != nil {
		return "", err
	}
	switch mediaType {
	case "text/html":
		return stripHTML(string(data)), nil
	case "text/plain":
		return string(data), nil
	default:
		return "", nil
	}
}

func readMultipart(r io.Reader, boundary string, depth int) (string, error) {
	if boundary == "" {
		return "", nil
	}
	mr := multipart.NewReader(r, boundary)
	var plain, html []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		ct := part.Header.Get("Content-Type")
		if ct == "" {
			ct = "text/plain"
		}
		mediaType, _, _ := mime.ParseMediaType(ct)
		if part.FileName() != "" {
			_ = part.Close()
			continue
		}
		text, err := readBody(ct, part.Header.Get("Content-Transfer-Encoding"), part, depth)
		_ = part.Close()
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		if mediaType == "text/html" {
			html = append(html, text)
		} else {
			plain = append(plain, text)
		}
	}
	if len(plain) > 0 {
		return strings.Join(plain, "\n"), nil
	}
	return strings.Join(html, "\n"), nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, newlineStripper{r})
	default:
		return r
	}
}

// newlineStripper drops CR and LF so wrapped base64 decodes cleanly.
type newlineStripper struct{ r io.Reader }

func (n newlineStripper) Read(p []byte) (int, error) {
	for {
		k, err := n.r.Read(p)
		j := 0
		for _, c := range p[:k] {
			if c != '\r' && c != '\n' {
				p[j] = c
				j++
			}
		}
		if j > 0 || err != nil {
			return j, err
		}
	}
}

func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
