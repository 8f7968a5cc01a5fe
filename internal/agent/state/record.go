package state

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Record is one entry in an append-only checkpoint log. Each record is a self-describing typed
// payload; readers dispatch on Type.
type Record struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// Record types found in task update logs.
const (
	// RecordStatusUpdate carries a sproto.StatusUpdate body.
	RecordStatusUpdate = "status-update"
	// RecordAcknowledgement carries an Acknowledgement body.
	RecordAcknowledgement = "acknowledgement"
)

// Acknowledgement is the body of a RecordAcknowledgement record.
type Acknowledgement struct {
	UUID string `json:"uuid"`
}

// RecordWriter appends length-prefixed records to a log file, syncing after every append so
// that an acknowledged write survives a crash.
type RecordWriter struct {
	file *os.File
}

// OpenRecordWriter opens the log at the provided path for appending, creating it if needed.
func OpenRecordWriter(path string) (*RecordWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "opening record log %s", path)
	}
	return &RecordWriter{file: file}, nil
}

// Append encodes the body, frames it with its type and a uvarint length prefix, and syncs.
func (w *RecordWriter) Append(recordType string, body interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encoding record body")
	}
	payload, err := json.Marshal(Record{Type: recordType, Body: encoded})
	if err != nil {
		return errors.Wrap(err, "encoding record")
	}

	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(len(payload)))
	if _, err := w.file.Write(append(prefix[:n], payload...)); err != nil {
		return errors.Wrap(err, "appending record")
	}
	return errors.Wrap(w.file.Sync(), "syncing record log")
}

// Close closes the underlying log file.
func (w *RecordWriter) Close() error {
	return w.file.Close()
}

// ReadRecords reads every complete record in the log at the provided path. A truncated trailing
// record, the signature of a crash mid-append, is dropped rather than surfaced as an error.
func ReadRecords(path string) ([]Record, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "opening record log %s", path)
	}
	defer func() { _ = file.Close() }()

	reader := bufio.NewReader(file)
	var records []Record
	for {
		size, err := binary.ReadUvarint(reader)
		if err == io.EOF {
			return records, nil
		} else if err != nil {
			return records, nil // Partial length prefix.
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return records, nil // Partial record body.
		}

		var record Record
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, errors.Wrapf(err, "corrupt record in %s", path)
		}
		records = append(records, record)
	}
}
