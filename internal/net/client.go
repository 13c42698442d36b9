package net

import "io"

// WriteMessage frames and writes one request.
func WriteMessage(w io.Writer, m Message) error {
	payload, err := MarshalMessage(m)
	if err != nil {
		return err
	}
	return writeFrame(w, payload)
}

// ReadReport reads and decodes one report frame.
func ReadReport(r io.Reader) (Report, error) {
	frame, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	return ParseReport(frame)
}
